package config

import (
	"sync/atomic"
	"time"
)

// Snapshot is a Config plus its published Version, the unit a reader
// captures for the lifetime of one request (spec §9: "implement snapshot
// read by copying an atomic pointer to a local").
type Snapshot struct {
	Config  *Config
	Version Version
}

// Store publishes Snapshots behind a single atomic.Pointer so that readers
// never block and a reload is one observable step (spec §4.H, §5).
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates a Store already holding the given snapshot.
func NewStore(cfg *Config, versionHash string) *Store {
	s := &Store{}
	s.Publish(cfg, versionHash)
	return s
}

// Load returns the currently published snapshot. Safe for concurrent use
// without locking.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Publish swaps in a new Config as the current snapshot in one atomic
// store; requests already holding a reference to the previous snapshot via
// Load continue to observe it until they finish (spec §3 ownership note).
func (s *Store) Publish(cfg *Config, versionHash string) {
	s.current.Store(&Snapshot{
		Config: cfg,
		Version: Version{
			Hash:     versionHash,
			LoadedAt: time.Now().Unix(),
		},
	})
}
