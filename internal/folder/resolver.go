// Package folder finds or creates Drive folders idempotently.
package folder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jun/erpdrive/internal/adapter"
	"github.com/jun/erpdrive/internal/errs"
	"github.com/jun/erpdrive/internal/folderlock"
	"github.com/jun/erpdrive/internal/metrics"
	"go.uber.org/zap"
)

// ErrClaimTimeout is returned when another process holds the folder claim and never publishes the folder.
var ErrClaimTimeout = fmt.Errorf("%w: timed out waiting for concurrent folder creation", errs.ErrUpstream)

const (
	defaultPollInterval = 200 * time.Millisecond
	defaultWaitTimeout  = 5 * time.Second
	maxClaimAttempts    = 3
)

// Resolver ensures a folder named name exists directly under a parent.
//
// Within one process, calls for the same (parent, name) are serialized and re-check the lookup
// before creating. Across processes, creation is coordinated through registry when one is
// configured; without it, instances racing on a brand-new folder can still create duplicates.
type Resolver struct {
	store    adapter.RemoteStore
	registry folderlock.Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
	locks    keyedMutex

	pollInterval time.Duration
	waitTimeout  time.Duration
}

// NewResolver creates a Resolver. registry, logger and m may be nil.
func NewResolver(store adapter.RemoteStore, registry folderlock.Registry, logger *zap.Logger, m *metrics.Metrics) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:        store,
		registry:     registry,
		logger:       logger.Named("folder"),
		metrics:      m,
		pollInterval: defaultPollInterval,
		waitTimeout:  defaultWaitTimeout,
	}
}

// EnsurePath resolves each name in turn below rootID and returns the id of the last folder.
func (r *Resolver) EnsurePath(ctx context.Context, rootID string, names ...string) (string, error) {
	id := rootID
	for _, name := range names {
		next, err := r.EnsureFolder(ctx, id, name)
		if err != nil {
			return "", err
		}
		id = next
	}
	return id, nil
}

// EnsureFolder returns the id of the folder called name under parentID, creating it if absent.
func (r *Resolver) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	if parentID == "" {
		return "", errs.Validation("parent folder id is required")
	}
	if strings.TrimSpace(name) == "" {
		return "", errs.Validation("folder name is required")
	}

	if id, ok, err := r.lookup(ctx, parentID, name); err != nil || ok {
		return id, err
	}

	key := folderlock.Key(parentID, name)
	unlock, err := r.locks.Lock(ctx, key)
	if err != nil {
		return "", err
	}
	defer unlock()

	// Another caller in this process may have created it while we waited.
	if id, ok, err := r.lookup(ctx, parentID, name); err != nil || ok {
		return id, err
	}

	if r.registry == nil {
		return r.create(ctx, parentID, name)
	}
	return r.createClaimed(ctx, key, parentID, name)
}

func (r *Resolver) lookup(ctx context.Context, parentID, name string) (string, bool, error) {
	f, err := r.store.FindFolder(ctx, parentID, name)
	if err != nil {
		return "", false, fmt.Errorf("find folder %q: %w", name, err)
	}
	if f == nil {
		return "", false, nil
	}
	r.metrics.FolderResolved("reused")
	return f.ID, true, nil
}

func (r *Resolver) create(ctx context.Context, parentID, name string) (string, error) {
	f, err := r.store.CreateFolder(ctx, parentID, name)
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}
	r.metrics.FolderResolved("created")
	return f.ID, nil
}

func (r *Resolver) createClaimed(ctx context.Context, key, parentID, name string) (string, error) {
	token := uuid.NewString()

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		current, won, err := r.registry.Claim(ctx, key, token)
		if err != nil {
			return "", fmt.Errorf("claim folder %q: %w", name, err)
		}
		if won {
			return r.createAndPublish(ctx, key, token, parentID, name)
		}
		if current == nil {
			// Expired between the failed put and the read; try again.
			continue
		}
		if current.FolderID == "" {
			return r.waitForPeer(ctx, key, token, parentID, name)
		}

		exists, err := r.store.FolderExists(ctx, current.FolderID)
		if err != nil {
			return "", fmt.Errorf("verify folder %q: %w", name, err)
		}
		if exists {
			r.metrics.FolderResolved("peer")
			return current.FolderID, nil
		}

		// The published folder was deleted since, e.g. by empty-folder cleanup.
		r.logger.Info("dropping stale folder claim", zap.String("key", key), zap.String("folder_id", current.FolderID))
		if err := r.registry.Release(ctx, key, current.Token); err != nil {
			return "", fmt.Errorf("release stale claim %q: %w", name, err)
		}
	}
	return r.waitForPeer(ctx, key, token, parentID, name)
}

func (r *Resolver) createAndPublish(ctx context.Context, key, token, parentID, name string) (string, error) {
	id, err := r.create(ctx, parentID, name)
	if err != nil {
		if relErr := r.registry.Release(context.WithoutCancel(ctx), key, token); relErr != nil {
			r.logger.Warn("failed to release folder claim", zap.String("key", key), zap.Error(relErr))
		}
		return "", err
	}

	if err := r.registry.Complete(ctx, key, token, id); err != nil {
		// The folder exists either way; peers fall back to the Drive lookup.
		level := zap.WarnLevel
		if errors.Is(err, folderlock.ErrClaimLost) {
			level = zap.ErrorLevel
		}
		r.logger.Log(level, "failed to publish folder claim", zap.String("key", key), zap.String("folder_id", id), zap.Error(err))
	}
	return id, nil
}

// waitForPeer polls until the claim holder publishes the folder, or takes over a released claim.
func (r *Resolver) waitForPeer(ctx context.Context, key, token, parentID, name string) (string, error) {
	r.logger.Debug("waiting for concurrent folder creation", zap.String("key", key))

	timeout := time.NewTimer(r.waitTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timeout.C:
			return "", fmt.Errorf("folder %q: %w", name, ErrClaimTimeout)
		case <-ticker.C:
		}

		claim, err := r.registry.Get(ctx, key)
		if err != nil {
			return "", fmt.Errorf("poll folder claim %q: %w", name, err)
		}
		if claim != nil && claim.FolderID != "" {
			r.metrics.FolderResolved("peer")
			return claim.FolderID, nil
		}
		if claim != nil {
			continue
		}

		// The holder gave up or expired. Its folder may exist anyway.
		if id, ok, err := r.lookup(ctx, parentID, name); err != nil || ok {
			return id, err
		}
		_, won, err := r.registry.Claim(ctx, key, token)
		if err != nil {
			return "", fmt.Errorf("claim folder %q: %w", name, err)
		}
		if won {
			return r.createAndPublish(ctx, key, token, parentID, name)
		}
	}
}
