package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jun/erpdrive/internal/errs"
	"github.com/jun/erpdrive/internal/model"
)

// Directory serves folder naming context from maps.
type Directory struct {
	mu       sync.RWMutex
	users    map[string]model.UserFolderContext
	sessions map[string]model.SessionFolderContext
}

func NewDirectory() *Directory {
	return &Directory{
		users:    make(map[string]model.UserFolderContext),
		sessions: make(map[string]model.SessionFolderContext),
	}
}

func (d *Directory) AddUser(u model.UserFolderContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.UserID] = u
}

func (d *Directory) AddSession(s model.SessionFolderContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[s.SessionID] = s
}

func (d *Directory) UserFolderContext(ctx context.Context, userID string) (*model.UserFolderContext, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, errs.ErrNotFound)
	}
	return &u, nil
}

func (d *Directory) SessionFolderContext(ctx context.Context, sessionID string) (*model.SessionFolderContext, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, errs.ErrNotFound)
	}
	return &s, nil
}
