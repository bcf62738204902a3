package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmynk/tally/internal/storage"
)

// saver persists committed states in the background. Pending states are
// coalesced: only the newest one is written, and saving it makes every
// earlier sequence number durable too.
type saver struct {
	persistent    *storage.Persistent
	logger        *slog.Logger
	metrics       *Metrics
	retryInterval time.Duration

	mu       sync.Mutex
	pending  *state
	pendSeq  uint64
	savedSeq uint64
	// progress is closed and replaced whenever a save attempt finishes.
	progress chan struct{}

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func newSaver(p *storage.Persistent, logger *slog.Logger, metrics *Metrics, retryInterval time.Duration) *saver {
	w := &saver{
		persistent:    p,
		logger:        logger,
		metrics:       metrics,
		retryInterval: retryInterval,
		progress:      make(chan struct{}),
		wake:          make(chan struct{}, 1),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *saver) enqueue(seq uint64, st *state) {
	w.mu.Lock()
	w.pending = st
	w.pendSeq = seq
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *saver) run() {
	defer close(w.done)
	var retry <-chan time.Time
	for {
		select {
		case <-w.wake:
		case <-retry:
		case <-w.quit:
			w.saveOnce()
			return
		}
		retry = nil
		if !w.saveOnce() {
			retry = time.After(w.retryInterval)
		}
	}
}

// saveOnce writes the pending state, if any. It reports false when a save
// failed and should be retried.
func (w *saver) saveOnce() bool {
	w.mu.Lock()
	st, seq := w.pending, w.pendSeq
	w.pending = nil
	w.mu.Unlock()
	if st == nil {
		return true
	}

	err := w.persistent.Save(context.Background(), st.snapshot())

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.metrics.PersistenceFailures.Inc()
		w.logger.Error("Failed to save ledger", "seq", seq, "error", err)
		// Keep the failed state unless a newer one arrived meanwhile.
		if w.pending == nil {
			w.pending, w.pendSeq = st, seq
		}
	} else {
		w.savedSeq = seq
		w.metrics.SavedSeq.Set(float64(seq))
	}
	w.metrics.Durable.Set(boolGauge(w.persistent.Durable()))
	close(w.progress)
	w.progress = make(chan struct{})
	return err == nil
}

func (w *saver) wait(ctx context.Context, seq uint64) error {
	for {
		w.mu.Lock()
		durable := w.persistent.Durable()
		saved := w.savedSeq
		progress := w.progress
		w.mu.Unlock()

		if !durable {
			return storage.ErrNotDurable
		}
		if saved >= seq {
			return nil
		}
		select {
		case <-progress:
		case <-w.done:
			w.mu.Lock()
			saved = w.savedSeq
			w.mu.Unlock()
			if saved >= seq {
				return nil
			}
			return storage.ErrNotDurable
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// stop performs a final save and waits for the saver goroutine to exit. It
// fails with storage.ErrNotDurable when the last enqueued state was not saved.
func (w *saver) stop(ctx context.Context) error {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.mu.Lock()
	saved, want := w.savedSeq, w.pendSeq
	w.mu.Unlock()
	if saved < want {
		return fmt.Errorf("%w: last saved seq %d, committed seq %d", storage.ErrNotDurable, saved, want)
	}
	return nil
}
