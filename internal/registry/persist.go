package registry

import (
	"context"

	"github.com/goodtune/puzzlegate/internal/metrics"
	"github.com/goodtune/puzzlegate/internal/storage"
)

// write is one queued store update. Exactly one field is set.
type write struct {
	session      *storage.SessionRecord
	destinations []byte
	economy      *storage.EconomyRecord
}

func (w write) kind() string {
	switch {
	case w.session != nil:
		return "session"
	case w.destinations != nil:
		return "destinations"
	default:
		return "economy"
	}
}

// enqueueLocked hands a write to the writer without blocking. A full queue
// drops the write; memory stays authoritative either way.
func (r *Registry) enqueueLocked(w write) {
	if r.closed {
		return
	}

	select {
	case r.writes <- w:
	default:
		metrics.StoreWriteFailures.WithLabelValues(w.kind()).Inc()
		r.logger.Warn().Str("kind", w.kind()).Msg("Store write queue full, dropping write")
	}
}

// writer applies queued writes until the queue is closed and drained.
func (r *Registry) writer() {
	defer r.wg.Done()

	for w := range r.writes {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		err := r.apply(ctx, w)
		cancel()

		if err != nil {
			metrics.StoreWriteFailures.WithLabelValues(w.kind()).Inc()
			r.logger.Error().Err(err).Str("kind", w.kind()).Msg("Failed to persist registry state")
		}
	}
}

func (r *Registry) apply(ctx context.Context, w write) error {
	switch {
	case w.session != nil:
		return r.store.Sessions().Upsert(ctx, *w.session)
	case w.destinations != nil:
		return r.store.Settings().SaveDestinations(ctx, w.destinations)
	case w.economy != nil:
		return r.store.Settings().SaveEconomy(ctx, *w.economy)
	}
	return nil
}
