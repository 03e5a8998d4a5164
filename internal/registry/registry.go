// Package registry owns the per-destination access timers and daily session
// records that decide when a puzzle must be solved.
package registry

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/puzzlegate/internal/bridge"
	"github.com/goodtune/puzzlegate/internal/clock"
	"github.com/goodtune/puzzlegate/internal/difficulty"
	"github.com/goodtune/puzzlegate/internal/metrics"
	"github.com/goodtune/puzzlegate/internal/settings"
	"github.com/goodtune/puzzlegate/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultQueueSize is the default number of buffered store writes.
	DefaultQueueSize = 64

	// DefaultWriteTimeout bounds a single store write.
	DefaultWriteTimeout = 5 * time.Second
)

// Registry holds one timer per destination plus its session record. Every
// operation runs to completion under a single lock.
type Registry struct {
	mu          sync.Mutex
	store       storage.Store
	matcher     Matcher
	broadcaster Broadcaster
	clock       clock.Clock
	logger      zerolog.Logger

	settings settings.Settings
	sessions map[string]storage.SessionRecord
	timers   map[string]*timer
	viewers  map[string]string // viewer ID -> destination ID
	onExpire []func(destinationID string)

	writes       chan write
	writeTimeout time.Duration
	closed       bool
	wg           sync.WaitGroup
}

// New creates a registry and starts its store writer.
func New(store storage.Store, matcher Matcher, broadcaster Broadcaster, cfg Config, logger zerolog.Logger) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	r := &Registry{
		store:        store,
		matcher:      matcher,
		broadcaster:  broadcaster,
		clock:        cfg.Clock,
		logger:       logger.With().Str("component", "registry").Logger(),
		settings:     settings.Settings{Economy: settings.DefaultEconomy()},
		sessions:     make(map[string]storage.SessionRecord),
		timers:       make(map[string]*timer),
		viewers:      make(map[string]string),
		writes:       make(chan write, cfg.QueueSize),
		writeTimeout: cfg.WriteTimeout,
	}

	r.wg.Add(1)
	go r.writer()

	return r
}

// OnExpire registers fn to run after a destination timer expires.
func (r *Registry) OnExpire(fn func(destinationID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = append(r.onExpire, fn)
}

// Settings returns the settings currently in force.
func (r *Registry) Settings() settings.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Navigate binds viewerID to the destination matching url, counts the visit
// and reports whether a challenge must be shown. A URL that matches nothing
// unbinds the viewer.
func (r *Registry) Navigate(ctx context.Context, viewerID, url string) (Navigation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	destID, err := r.matcher.Match(ctx, url, r.settings.IDs())
	if err != nil {
		return Navigation{}, false, fmt.Errorf("failed to match %s: %w", url, err)
	}

	previous, bound := r.viewers[viewerID]
	if destID == "" {
		if bound {
			delete(r.viewers, viewerID)
			r.releaseLocked(previous)
		}
		return Navigation{}, false, nil
	}

	r.viewers[viewerID] = destID
	if bound && previous != destID {
		r.releaseLocked(previous)
	}

	if err := r.recordVisitLocked(destID); err != nil {
		return Navigation{}, false, err
	}

	nav := Navigation{DestinationID: destID, Status: r.statusLocked(destID)}
	if r.requireChallengeLocked(destID) {
		show, err := r.challengeLocked(destID, bridge.ReasonStart)
		if err != nil {
			return Navigation{}, false, err
		}
		nav.Challenge = &show
	}

	r.logger.Debug().
		Str("viewer", viewerID).
		Str("destination", destID).
		Bool("challenge", nav.Challenge != nil).
		Msg("Viewer navigated to monitored destination")

	return nav, true, nil
}

// Attach binds viewerID to destinationID without counting a visit.
func (r *Registry) Attach(viewerID, destinationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.viewers[viewerID]; ok && previous != destinationID {
		r.viewers[viewerID] = destinationID
		r.releaseLocked(previous)
		return
	}
	r.viewers[viewerID] = destinationID
}

// Detach unbinds viewerID and releases its destination when nothing else
// references it. It returns the destination the viewer was bound to.
func (r *Registry) Detach(viewerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	destID, ok := r.viewers[viewerID]
	if !ok {
		return "", false
	}
	delete(r.viewers, viewerID)
	r.releaseLocked(destID)
	return destID, true
}

// DestinationOf returns the destination viewerID is bound to.
func (r *Registry) DestinationOf(viewerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	destID, ok := r.viewers[viewerID]
	return destID, ok
}

// Viewers returns the viewers bound to destinationID, sorted.
func (r *Registry) Viewers(destinationID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewersLocked(destinationID)
}

// RequireChallenge reports whether a puzzle must be solved before the
// destination may be used: no timer exists, or it has expired.
func (r *Registry) RequireChallenge(destinationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requireChallengeLocked(destinationID)
}

// ChallengeFor builds the challenge payload for a destination at its current
// session progress.
func (r *Registry) ChallengeFor(destinationID, reason string) (bridge.ShowChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.challengeLocked(destinationID, reason)
}

// TargetRating returns the puzzle rating for the destination's next session.
func (r *Registry) TargetRating(destinationID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dest, ok := r.settings.Find(destinationID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDestination, destinationID)
	}
	return difficulty.TargetRating(r.sessions[destinationID], dest, r.settings.Economy), nil
}

// OnChallengeResolved starts or replaces the timer for a destination and
// sends the new status to every viewer bound to it. The grant is clamped to
// the destination's session cap and the clamped value is returned.
func (r *Registry) OnChallengeResolved(destinationID string, grantedSeconds int) (int, error) {
	r.mu.Lock()

	dest, ok := r.settings.Find(destinationID)
	if !ok {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrUnknownDestination, destinationID)
	}

	granted := min(max(grantedSeconds, 0), dest.MaxSeconds())

	t, ok := r.timers[destinationID]
	if !ok {
		t = &timer{}
		r.timers[destinationID] = t
	}
	r.cancelLocked(t)

	gen := t.gen
	t.state = StateActive
	t.startedAt = r.clock.Now()
	t.granted = granted
	t.expiry = r.clock.AfterFunc(time.Duration(granted)*time.Second, func() {
		r.expire(destinationID, gen)
	})

	metrics.GrantedSeconds.WithLabelValues(destinationID).Observe(float64(granted))
	r.updateTimersGaugeLocked()

	viewers := r.viewersLocked(destinationID)
	status := r.statusLocked(destinationID)
	r.mu.Unlock()

	r.logger.Info().
		Str("destination", destinationID).
		Int("requested_seconds", grantedSeconds).
		Int("granted_seconds", granted).
		Int("viewers", len(viewers)).
		Msg("Access timer started")

	if r.broadcaster != nil && len(viewers) > 0 {
		r.broadcaster.Broadcast(viewers, bridge.Message{Kind: bridge.KindTimerStatus, TimerStatus: &status})
	}

	return granted, nil
}

// RemainingSeconds returns the time left on an active timer, or 0.
func (r *Registry) RemainingSeconds(destinationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remainingLocked(destinationID)
}

// Status returns the timer status for a destination.
func (r *Registry) Status(destinationID string) bridge.TimerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked(destinationID)
}

// StatusForViewer returns the timer status of the destination viewerID is
// bound to. An unbound viewer gets an unknown status.
func (r *Registry) StatusForViewer(viewerID string) bridge.TimerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	destID, ok := r.viewers[viewerID]
	if !ok {
		return bridge.TimerStatus{Known: false}
	}
	return r.statusLocked(destID)
}

// TimerState returns the timer state for a destination.
func (r *Registry) TimerState(destinationID string) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[destinationID]; ok {
		return t.state
	}
	return StateIdle
}

// Session returns the session record for a destination.
func (r *Registry) Session(destinationID string) (storage.SessionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[destinationID]
	return rec, ok
}

// RecordVisit counts a session for the destination unless its timer is
// active. The count rolls over on a new calendar day and stops at the
// destination's daily quota.
func (r *Registry) RecordVisit(destinationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordVisitLocked(destinationID)
}

// ReleaseIfUnreferenced cancels and deletes the destination timer once no
// viewer is bound to it. It reports whether the timer was released.
func (r *Registry) ReleaseIfUnreferenced(destinationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseLocked(destinationID)
}

// Close cancels every timer and flushes pending store writes.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for id, t := range r.timers {
		r.cancelLocked(t)
		delete(r.timers, id)
	}
	r.updateTimersGaugeLocked()
	close(r.writes)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Registry) requireChallengeLocked(destinationID string) bool {
	t, ok := r.timers[destinationID]
	return !ok || t.state == StateExpired
}

func (r *Registry) challengeLocked(destinationID, reason string) (bridge.ShowChallenge, error) {
	dest, ok := r.settings.Find(destinationID)
	if !ok {
		return bridge.ShowChallenge{}, fmt.Errorf("%w: %s", ErrUnknownDestination, destinationID)
	}

	rec := r.sessions[destinationID]
	metrics.ChallengesRequested.WithLabelValues(destinationID, reason).Inc()

	return bridge.ShowChallenge{
		Reason:       reason,
		Rating:       difficulty.TargetRating(rec, dest, r.settings.Economy),
		SessionIndex: rec.Count,
		SessionMax:   dest.SessionsPerDay,
		Economy:      r.settings.Economy,
		Destination:  dest,
	}, nil
}

func (r *Registry) remainingLocked(destinationID string) int {
	t, ok := r.timers[destinationID]
	if !ok || t.state != StateActive {
		return 0
	}

	elapsed := r.clock.Now().Sub(t.startedAt).Seconds()
	return max(0, int(math.Round(float64(t.granted)-elapsed)))
}

func (r *Registry) statusLocked(destinationID string) bridge.TimerStatus {
	status := bridge.TimerStatus{
		DestinationID:    destinationID,
		RemainingSeconds: r.remainingLocked(destinationID),
		Known:            true,
	}
	if t, ok := r.timers[destinationID]; ok {
		status.TotalSeconds = t.granted
	} else if dest, ok := r.settings.Find(destinationID); ok {
		status.TotalSeconds = dest.MaxSeconds()
	}
	return status
}

func (r *Registry) recordVisitLocked(destinationID string) error {
	dest, ok := r.settings.Find(destinationID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDestination, destinationID)
	}

	if t, ok := r.timers[destinationID]; ok && t.state == StateActive {
		return nil
	}

	today := r.clock.Now().Format(storage.DateLayout)
	rec, ok := r.sessions[destinationID]
	if !ok || rec.LastResetDate != today {
		rec = storage.SessionRecord{DestinationID: destinationID, LastResetDate: today}
	}
	if rec.Count < dest.SessionsPerDay {
		rec.Count++
		metrics.SessionsConsumed.WithLabelValues(destinationID).Inc()
	}
	r.sessions[destinationID] = rec
	r.enqueueLocked(write{session: &rec})

	return nil
}

func (r *Registry) releaseLocked(destinationID string) bool {
	for _, d := range r.viewers {
		if d == destinationID {
			return false
		}
	}

	t, ok := r.timers[destinationID]
	if !ok {
		return false
	}
	r.cancelLocked(t)
	delete(r.timers, destinationID)
	r.updateTimersGaugeLocked()

	r.logger.Debug().Str("destination", destinationID).Msg("Released unreferenced timer")
	return true
}

// cancelLocked stops the pending expiry and invalidates any callback that
// already started firing.
func (r *Registry) cancelLocked(t *timer) {
	t.gen++
	if t.expiry != nil {
		t.expiry.Stop()
		t.expiry = nil
	}
}

func (r *Registry) expire(destinationID string, gen uint64) {
	r.mu.Lock()

	t, ok := r.timers[destinationID]
	if !ok || t.gen != gen || t.state != StateActive {
		r.mu.Unlock()
		return
	}
	t.state = StateExpired
	t.expiry = nil
	r.updateTimersGaugeLocked()
	metrics.TimerExpiries.WithLabelValues(destinationID).Inc()

	viewers := r.viewersLocked(destinationID)
	hooks := append([]func(string){}, r.onExpire...)

	var msg *bridge.Message
	if show, err := r.challengeLocked(destinationID, bridge.ReasonTimeUp); err == nil {
		msg = &bridge.Message{Kind: bridge.KindShowChallenge, ShowChallenge: &show}
	} else {
		r.logger.Warn().Err(err).Str("destination", destinationID).Msg("Expired destination is no longer configured")
	}
	r.mu.Unlock()

	r.logger.Info().
		Str("destination", destinationID).
		Int("viewers", len(viewers)).
		Msg("Access timer expired")

	if msg != nil && r.broadcaster != nil && len(viewers) > 0 {
		r.broadcaster.Broadcast(viewers, *msg)
	}
	for _, fn := range hooks {
		fn(destinationID)
	}
}

func (r *Registry) viewersLocked(destinationID string) []string {
	var ids []string
	for viewer, d := range r.viewers {
		if d == destinationID {
			ids = append(ids, viewer)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) updateTimersGaugeLocked() {
	active := 0
	for _, t := range r.timers {
		if t.state == StateActive {
			active++
		}
	}
	metrics.TimersActive.Set(float64(active))
}
