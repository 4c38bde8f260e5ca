// Package folderlock coordinates Drive folder creation across processes.
//
// Drive has no unique-name constraint, so two instances that both miss a folder lookup would
// both create it. A claim in the registry is a compare-and-swap reservation on (parent, name):
// only the holder creates the folder and then publishes its id for everyone else.
package folderlock

import (
	"context"
	"time"

	"github.com/jun/erpdrive/internal/model"
)

const (
	// PendingTTL bounds how long a claim blocks others while its holder creates the folder.
	PendingTTL = 30 * time.Second
	// CompletedTTL keeps the published folder id around while Drive's list index catches up.
	CompletedTTL = 10 * time.Minute
)

// Registry defines the claim operations used by the folder resolver.
type Registry interface {
	// Claim reserves key for token. It returns won=false and the live claim when another token holds it.
	Claim(ctx context.Context, key, token string) (current *model.FolderClaim, won bool, err error)

	// Complete publishes the created folder id. It fails if token no longer holds the claim.
	Complete(ctx context.Context, key, token, folderID string) error

	// Release drops the claim if token still holds it.
	Release(ctx context.Context, key, token string) error

	// Get returns the live claim for key, or nil.
	Get(ctx context.Context, key string) (*model.FolderClaim, error)
}

// Key identifies a folder by its parent and exact name. Drive ids never contain '/'.
func Key(parentID, name string) string {
	return parentID + "/" + name
}
