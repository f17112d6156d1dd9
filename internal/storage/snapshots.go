package storage

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/opencode-ai/threadbridge/pkg/types"
)

// Snapshots stores one resume snapshot per (platform, thread).
type Snapshots struct {
	store *Storage
}

// NewSnapshots returns a snapshot store backed by store.
func NewSnapshots(store *Storage) *Snapshots {
	return &Snapshots{store: store}
}

// Thread IDs are opaque platform strings; escape them for use as file names.
func snapshotKey(platformID, threadID string) []string {
	return []string{"snapshot", url.PathEscape(platformID), url.PathEscape(threadID)}
}

// Save writes snap, replacing any previous snapshot of its thread.
func (s *Snapshots) Save(ctx context.Context, snap types.SessionSnapshot) error {
	return s.store.Put(ctx, snapshotKey(snap.PlatformID, snap.ThreadID), snap)
}

// Load returns the snapshot of a thread, or ErrNotFound.
func (s *Snapshots) Load(ctx context.Context, platformID, threadID string) (types.SessionSnapshot, error) {
	var snap types.SessionSnapshot
	err := s.store.Get(ctx, snapshotKey(platformID, threadID), &snap)
	return snap, err
}

// Delete removes the snapshot of a thread.
func (s *Snapshots) Delete(ctx context.Context, platformID, threadID string) error {
	return s.store.Delete(ctx, snapshotKey(platformID, threadID))
}

// List returns every snapshot stored for a platform.
func (s *Snapshots) List(ctx context.Context, platformID string) ([]types.SessionSnapshot, error) {
	var out []types.SessionSnapshot
	err := s.store.Scan(ctx, []string{"snapshot", url.PathEscape(platformID)}, func(_ string, data json.RawMessage) error {
		var snap types.SessionSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil
		}
		out = append(out, snap)
		return nil
	})
	return out, err
}

// All returns the snapshots of every platform.
func (s *Snapshots) All(ctx context.Context) ([]types.SessionSnapshot, error) {
	platforms, err := s.store.List(ctx, []string{"snapshot"})
	if err != nil {
		return nil, err
	}
	var out []types.SessionSnapshot
	for _, escaped := range platforms {
		id, err := url.PathUnescape(escaped)
		if err != nil {
			continue
		}
		snaps, err := s.List(ctx, id)
		if err != nil {
			return out, err
		}
		out = append(out, snaps...)
	}
	return out, nil
}
