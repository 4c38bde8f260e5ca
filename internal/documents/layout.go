package documents

import (
	"context"
	"fmt"
	"strings"

	"github.com/jun/erpdrive/internal/model"
)

// DefaultUsersFolderName is the top-level folder holding one sub-folder per user.
const DefaultUsersFolderName = "Usuarios"

// Layout maps an owner to the chain of folder names under the shared-drive root.
type Layout interface {
	Kind() model.OwnerKind
	Folders(ctx context.Context, ownerID string) ([]string, error)
}

type UserDirectory interface {
	UserFolderContext(ctx context.Context, userID string) (*model.UserFolderContext, error)
}

type SessionDirectory interface {
	SessionFolderContext(ctx context.Context, sessionID string) (*model.SessionFolderContext, error)
}

// UserLayout files user documents under "<RootName>/<full name> (<user id>)".
type UserLayout struct {
	Directory UserDirectory
	RootName  string
}

func (UserLayout) Kind() model.OwnerKind { return model.OwnerUser }

func (l UserLayout) Folders(ctx context.Context, userID string) ([]string, error) {
	u, err := l.Directory.UserFolderContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	root := l.RootName
	if root == "" {
		root = DefaultUsersFolderName
	}

	name := strings.Join(strings.Fields(u.FirstName+" "+u.LastName), " ")
	if name == "" {
		return []string{root, u.UserID}, nil
	}
	return []string{root, fmt.Sprintf("%s (%s)", name, u.UserID)}, nil
}

// SessionLayout files session documents under "<organization>/<deal id> - <deal title>/Sesión N - <name>".
type SessionLayout struct {
	Directory SessionDirectory
}

func (SessionLayout) Kind() model.OwnerKind { return model.OwnerSession }

func (l SessionLayout) Folders(ctx context.Context, sessionID string) ([]string, error) {
	s, err := l.Directory.SessionFolderContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	org := strings.TrimSpace(s.OrganizationName)
	if org == "" {
		org = "Sin organización"
	}
	deal := s.DealID
	if title := strings.TrimSpace(s.DealTitle); title != "" {
		deal = fmt.Sprintf("%s - %s", s.DealID, title)
	}
	session := fmt.Sprintf("Sesión %d", s.SessionNumber)
	if name := strings.TrimSpace(s.SessionName); name != "" {
		session = fmt.Sprintf("%s - %s", session, name)
	}
	return []string{org, deal, session}, nil
}
