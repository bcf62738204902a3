package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Mode is the state the persistent store reached during Open.
type Mode string

const (
	// ModeOpened means an existing compatible store was opened.
	ModeOpened Mode = "opened"
	// ModeRecovered means an incompatible store was deleted and recreated empty.
	ModeRecovered Mode = "recovered"
	// ModeVolatile means nothing is saved beyond the process lifetime.
	ModeVolatile Mode = "volatile"
)

// maxOpenAttempts bounds Open: the original open plus one open after recovery.
const maxOpenAttempts = 2

// Opener opens the durable backend at path.
type Opener func(ctx context.Context, path string) (Backend, error)

// OpenConfig configures Open.
type OpenConfig struct {
	Path     string
	Opener   Opener
	Volatile func() Backend
	Logger   *slog.Logger
}

// Status describes the persistent store for callers that surface a
// "not saving" warning.
type Status struct {
	Mode     Mode
	Durable  bool
	Attempts int
	Path     string
	Err      error // last open or save error, if any
}

// Persistent wraps the backend chosen by Open and tracks durability.
type Persistent struct {
	backend Backend
	initial *Snapshot
	logger  *slog.Logger

	mu     sync.RWMutex
	status Status
}

// Open initializes persistent storage synchronously. It always returns a
// usable store: an existing compatible one, a recreated empty one after a
// schema mismatch, or a volatile fallback. It never makes more than two
// open attempts.
func Open(ctx context.Context, cfg OpenConfig) *Persistent {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Persistent{logger: logger, status: Status{Path: cfg.Path}}

	snap, backend, err := p.attempt(ctx, cfg)
	if err == nil {
		p.use(backend, snap, ModeOpened, nil)
		return p
	}
	if !IsSchemaMismatch(err) {
		logger.Error("Persistent store unavailable, changes will not be saved", "path", cfg.Path, "error", err)
		p.useVolatile(cfg, &PersistenceFailure{Op: "open", Err: err})
		return p
	}

	logger.Warn("Incompatible store detected, recreating", "path", cfg.Path, "error", err)
	if rmErr := RemoveArtifacts(cfg.Path); rmErr != nil {
		logger.Error("Failed to remove incompatible store", "path", cfg.Path, "error", rmErr)
		p.useVolatile(cfg, &PersistenceFailure{Op: "recover", Err: errors.Join(err, rmErr)})
		return p
	}

	snap, backend, err = p.attempt(ctx, cfg)
	if err != nil {
		logger.Error("Recovery failed, changes will not be saved", "path", cfg.Path, "error", err)
		p.useVolatile(cfg, &PersistenceFailure{Op: "recover", Err: err})
		return p
	}
	logger.Info("Store recreated", "path", cfg.Path)
	p.use(backend, snap, ModeRecovered, nil)
	return p
}

func (p *Persistent) attempt(ctx context.Context, cfg OpenConfig) (*Snapshot, Backend, error) {
	if p.status.Attempts >= maxOpenAttempts {
		return nil, nil, fmt.Errorf("open attempts exhausted")
	}
	p.status.Attempts++
	if cfg.Opener == nil {
		return nil, nil, fmt.Errorf("no opener configured")
	}

	backend, err := cfg.Opener(ctx, cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	snap, err := backend.Load(ctx)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	return snap, backend, nil
}

func (p *Persistent) use(backend Backend, snap *Snapshot, mode Mode, err error) {
	if snap == nil {
		snap = &Snapshot{}
	}
	p.backend = backend
	p.initial = snap
	p.status.Mode = mode
	p.status.Durable = backend.Durable()
	p.status.Err = err
}

func (p *Persistent) useVolatile(cfg OpenConfig, err error) {
	var backend Backend
	if cfg.Volatile != nil {
		backend = cfg.Volatile()
	} else {
		backend = NewMemory()
	}
	p.use(backend, &Snapshot{}, ModeVolatile, err)
}

// Initial returns the snapshot loaded during Open.
func (p *Persistent) Initial() *Snapshot {
	return p.initial.Clone()
}

// Load reads the current snapshot from the backend.
func (p *Persistent) Load(ctx context.Context) (*Snapshot, error) {
	snap, err := p.backend.Load(ctx)
	if err != nil {
		return nil, &PersistenceFailure{Op: "load", Err: err}
	}
	return snap, nil
}

// Save writes snap. A failure flips the store into degraded (non-durable)
// state instead of stopping the ledger; a later successful save restores it.
func (p *Persistent) Save(ctx context.Context, snap *Snapshot) error {
	err := p.backend.Save(ctx, snap)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		if p.status.Durable {
			p.logger.Error("Save failed, changes are not being saved", "path", p.status.Path, "error", err)
		}
		p.status.Durable = false
		p.status.Err = &PersistenceFailure{Op: "save", Err: err}
		return p.status.Err
	}
	if !p.status.Durable && p.backend.Durable() {
		p.logger.Info("Saving resumed", "path", p.status.Path)
		p.status.Err = nil
	}
	p.status.Durable = p.backend.Durable()
	return nil
}

// Status returns the current status.
func (p *Persistent) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Durable reports whether saves currently reach durable storage.
func (p *Persistent) Durable() bool {
	return p.Status().Durable
}

// Close closes the backend.
func (p *Persistent) Close() error {
	return p.backend.Close()
}
