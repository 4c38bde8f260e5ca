package googledrive

import (
	"fmt"
	"sort"
	"strings"
)

// Field is a searchable Drive file attribute.
type Field string

const (
	FieldName          Field = "name"
	FieldMimeType      Field = "mimeType"
	FieldParents       Field = "parents"
	FieldTrashed       Field = "trashed"
	FieldAppProperties Field = "appProperties"
)

// Op is a Drive query operator.
type Op int

const (
	OpEq  Op = iota // field = 'value'
	OpIn            // 'value' in field
	OpHas           // field has { key='k' and value='v' }
	OpFalse         // field = false
)

// Predicate is one clause of a Drive files.list query. Values are raw; Build escapes them.
type Predicate struct {
	Field Field
	Op    Op
	Key   string
	Value string
}

var literalEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// Escape quotes a value for use inside a single-quoted query literal.
func Escape(v string) string {
	return literalEscaper.Replace(v)
}

func NameIs(name string) Predicate { return Predicate{Field: FieldName, Op: OpEq, Value: name} }

func MimeTypeIs(mime string) Predicate {
	return Predicate{Field: FieldMimeType, Op: OpEq, Value: mime}
}

func InParents(id string) Predicate { return Predicate{Field: FieldParents, Op: OpIn, Value: id} }

func NotTrashed() Predicate { return Predicate{Field: FieldTrashed, Op: OpFalse} }

func AppProperty(key, value string) Predicate {
	return Predicate{Field: FieldAppProperties, Op: OpHas, Key: key, Value: value}
}

// AppProperties returns one predicate per tag, ordered by key so the query is deterministic.
func AppProperties(tags map[string]string) []Predicate {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	preds := make([]Predicate, 0, len(keys))
	for _, k := range keys {
		preds = append(preds, AppProperty(k, tags[k]))
	}
	return preds
}

func (p Predicate) String() string {
	switch p.Op {
	case OpEq:
		return fmt.Sprintf("%s = '%s'", p.Field, Escape(p.Value))
	case OpIn:
		return fmt.Sprintf("'%s' in %s", Escape(p.Value), p.Field)
	case OpHas:
		return fmt.Sprintf("%s has { key='%s' and value='%s' }", p.Field, Escape(p.Key), Escape(p.Value))
	case OpFalse:
		return fmt.Sprintf("%s = false", p.Field)
	default:
		panic(fmt.Sprintf("googledrive: unknown query operator %d", p.Op))
	}
}

// Build joins predicates into a conjunction.
func Build(preds ...Predicate) string {
	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = p.String()
	}
	return strings.Join(parts, " and ")
}
