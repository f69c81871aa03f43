package storage

import (
	"fmt"

	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/state"
)

const prefixSnapshot = "snap:"

// keepSnapshots bounds retained snapshots; older ones are pruned so replay
// depth stays useful without unbounded growth.
const keepSnapshots = 16

// SnapshotStore persists ledger snapshots keyed by block height, giving
// block replay and fork rollback a durable anchor across restarts.
type SnapshotStore struct {
	db DB
}

// NewSnapshotStore wraps a DB as a SnapshotStore.
func NewSnapshotStore(db DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save persists the snapshot for height and prunes entries older than the
// retention window.
func (s *SnapshotStore) Save(height uint64, snap *state.Snapshot) error {
	data, err := core.Encode(snap)
	if err != nil {
		return err
	}
	if err := s.db.Set(snapshotKey(height), data); err != nil {
		return fmt.Errorf("save snapshot %d: %w", height, err)
	}
	if height >= keepSnapshots {
		_ = s.db.Delete(snapshotKey(height - keepSnapshots))
	}
	return nil
}

// Load returns the snapshot stored for height.
func (s *SnapshotStore) Load(height uint64) (*state.Snapshot, error) {
	data, err := s.db.Get(snapshotKey(height))
	if err != nil {
		return nil, err
	}
	var snap state.Snapshot
	if err := core.Decode(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Latest scans the retained range below tip and returns the newest stored
// snapshot and its height.
func (s *SnapshotStore) Latest(tip uint64) (*state.Snapshot, uint64, error) {
	for h := tip; ; h-- {
		snap, err := s.Load(h)
		if err == nil {
			return snap, h, nil
		}
		if h == 0 || tip-h >= keepSnapshots {
			break
		}
	}
	return nil, 0, core.ErrNotFound
}

func snapshotKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixSnapshot, height))
}
