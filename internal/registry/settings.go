package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/puzzlegate/internal/settings"
	"github.com/goodtune/puzzlegate/internal/storage"
)

// Load reads settings and session records from the store. Settings missing
// from the store are seeded from seed; a malformed destination list is
// cleaned and written back. Every configured destination gets a session
// record.
func (r *Registry) Load(ctx context.Context, seed settings.Settings) error {
	s, err := r.readSettings(ctx, &seed)
	if err != nil {
		return err
	}

	records, err := r.store.Sessions().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session records: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		r.sessions[rec.DestinationID] = rec
	}
	r.applyLocked(s)

	r.logger.Info().
		Int("destinations", len(s.Destinations)).
		Int("sessions", len(records)).
		Msg("Registry loaded")

	return nil
}

// Reload re-reads settings from the store and applies them. Settings that
// are missing from the store keep their current values.
func (r *Registry) Reload(ctx context.Context) error {
	s, err := r.readSettings(ctx, nil)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyLocked(s)

	r.logger.Info().Int("destinations", len(s.Destinations)).Msg("Settings reloaded")
	return nil
}

// ApplySettings adopts new settings for subsequent decisions. Running timers
// are kept, including those of destinations that were removed.
func (r *Registry) ApplySettings(s settings.Settings) {
	s.Destinations, _ = settings.Sanitize(s.Destinations)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyLocked(s)
}

// UpdateSettings applies s and persists it to the store.
func (r *Registry) UpdateSettings(s settings.Settings) error {
	if err := s.Economy.Validate(); err != nil {
		return fmt.Errorf("invalid economy: %w", err)
	}
	s.Destinations, _ = settings.Sanitize(s.Destinations)

	raw, err := settings.EncodeDestinations(s.Destinations)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.applyLocked(s)
	eco := s.Economy.Record()
	r.enqueueLocked(write{destinations: raw})
	r.enqueueLocked(write{economy: &eco})
	return nil
}

func (r *Registry) applyLocked(s settings.Settings) {
	r.settings = s

	today := r.clock.Now().Format(storage.DateLayout)
	for _, d := range s.Destinations {
		if _, ok := r.sessions[d.ID]; ok {
			continue
		}
		rec := storage.SessionRecord{DestinationID: d.ID, LastResetDate: today}
		r.sessions[d.ID] = rec
		r.enqueueLocked(write{session: &rec})
	}
}

// readSettings loads the destination list and economy. When seed is set,
// missing values are taken from it and saved.
func (r *Registry) readSettings(ctx context.Context, seed *settings.Settings) (settings.Settings, error) {
	current := r.Settings()
	if seed != nil {
		current = *seed
	}
	st := r.store.Settings()

	var s settings.Settings

	raw, err := st.LoadDestinations(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.Destinations, _ = settings.Sanitize(current.Destinations)
		if seed != nil {
			if err := r.saveDestinations(ctx, s.Destinations); err != nil {
				return settings.Settings{}, err
			}
		}
	case err != nil:
		return settings.Settings{}, fmt.Errorf("failed to load destinations: %w", err)
	default:
		dests, healed, err := settings.ParseDestinations(raw)
		if err != nil {
			r.logger.Warn().Err(err).Msg("Stored destination list is unreadable, replacing it")
			dests, _ = settings.Sanitize(current.Destinations)
			healed = true
		}
		s.Destinations = dests
		if healed {
			r.logger.Info().Int("destinations", len(dests)).Msg("Writing back cleaned destination list")
			if err := r.saveDestinations(ctx, dests); err != nil {
				return settings.Settings{}, err
			}
		}
	}

	rec, err := st.LoadEconomy(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.Economy = current.Economy
		if seed != nil {
			if err := st.SaveEconomy(ctx, s.Economy.Record()); err != nil {
				return settings.Settings{}, fmt.Errorf("failed to save economy: %w", err)
			}
		}
	case err != nil:
		return settings.Settings{}, fmt.Errorf("failed to load economy: %w", err)
	default:
		s.Economy = settings.EconomyFromRecord(*rec)
		if err := s.Economy.Validate(); err != nil {
			r.logger.Warn().Err(err).Msg("Stored economy is invalid, keeping current values")
			s.Economy = current.Economy
		}
	}

	return s, nil
}

func (r *Registry) saveDestinations(ctx context.Context, dests []settings.Destination) error {
	raw, err := settings.EncodeDestinations(dests)
	if err != nil {
		return err
	}
	if err := r.store.Settings().SaveDestinations(ctx, raw); err != nil {
		return fmt.Errorf("failed to save destinations: %w", err)
	}
	return nil
}
