// Package gate connects viewer messages to the access timer registry and the
// puzzle attempt manager.
package gate

import (
	"context"
	"errors"
	"strings"

	"github.com/goodtune/puzzlegate/internal/bridge"
	"github.com/goodtune/puzzlegate/internal/challenge"
	"github.com/goodtune/puzzlegate/internal/corpus"
	"github.com/goodtune/puzzlegate/internal/puzzle"
	"github.com/goodtune/puzzlegate/internal/registry"
	"github.com/rs/zerolog"
)

// Sender delivers a message to one viewer.
type Sender interface {
	Send(viewerID string, msg bridge.Message) bool
}

// Service handles viewer messages.
type Service struct {
	registry *registry.Registry
	manager  *challenge.Manager
	sender   Sender
	logger   zerolog.Logger
}

// NewService creates the gate service. Attempt updates that happen outside a
// request, such as scripted opponent replies, are pushed through sender.
func NewService(reg *registry.Registry, manager *challenge.Manager, sender Sender, logger zerolog.Logger) *Service {
	s := &Service{
		registry: reg,
		manager:  manager,
		sender:   sender,
		logger:   logger.With().Str("component", "gate").Logger(),
	}

	manager.OnUpdate(func(viewerID string, view challenge.View) {
		s.sender.Send(viewerID, attemptState(view))
	})

	return s
}

// Handle processes one viewer message and returns the replies.
func (s *Service) Handle(ctx context.Context, viewerID string, msg bridge.Message) []bridge.Message {
	if err := msg.Validate(); err != nil {
		return reply(bridge.NewError("", err.Error(), true))
	}

	switch msg.Kind {
	case bridge.KindNavigate:
		return s.handleNavigate(ctx, viewerID, msg.Navigate.URL)
	case bridge.KindRequestChallenge:
		return s.handleRequestChallenge(viewerID, msg.RequestChallenge.DestinationID)
	case bridge.KindTriggerChallenge:
		return s.handleTrigger(viewerID)
	case bridge.KindChallengeResolved:
		return s.handleResolved(ctx, viewerID, *msg.ChallengeResolved)
	case bridge.KindQueryTimerStatus:
		status := s.registry.StatusForViewer(viewerID)
		return []bridge.Message{timerStatus(status)}
	case bridge.KindAttemptStart:
		return s.handleAttemptStart(ctx, viewerID, *msg.Attempt)
	case bridge.KindAttemptMove:
		cmd := msg.Attempt
		mv := puzzle.Move{
			From:      strings.ToLower(cmd.From),
			To:        strings.ToLower(cmd.To),
			Promotion: strings.ToLower(cmd.Promotion),
		}
		return s.attemptReply(s.manager.Move(cmd.AttemptID, mv))
	case bridge.KindAttemptHint:
		return s.attemptReply(s.manager.Hint(msg.Attempt.AttemptID))
	case bridge.KindAttemptUndo:
		return s.attemptReply(s.manager.Undo(msg.Attempt.AttemptID))
	case bridge.KindAttemptRedo:
		return s.attemptReply(s.manager.Redo(msg.Attempt.AttemptID))
	case bridge.KindAttemptSkip:
		return s.attemptReply(s.manager.Skip(ctx, msg.Attempt.AttemptID))
	case bridge.KindShowChallenge, bridge.KindTimerStatus, bridge.KindAttemptState, bridge.KindError:
		return reply(bridge.NewError("", "message kind "+string(msg.Kind)+" is sent by the service, not viewers", false))
	}
	return nil
}

// ViewerGone releases everything the viewer held.
func (s *Service) ViewerGone(ctx context.Context, viewerID string) {
	if dest, ok := s.registry.Detach(viewerID); ok {
		s.logger.Debug().Str("viewer", viewerID).Str("destination", dest).Msg("Viewer left destination")
	}
	s.manager.AbandonViewer(ctx, viewerID)
}

// Status reports the timer status of a configured destination.
func (s *Service) Status(destinationID string) (bridge.TimerStatus, bool) {
	if _, ok := s.registry.Settings().Find(destinationID); !ok {
		return bridge.TimerStatus{}, false
	}
	return s.registry.Status(destinationID), true
}

func (s *Service) handleNavigate(ctx context.Context, viewerID, url string) []bridge.Message {
	nav, matched, err := s.registry.Navigate(ctx, viewerID, url)
	if err != nil {
		s.logger.Error().Err(err).Str("viewer", viewerID).Msg("Failed to handle navigation")
		return reply(bridge.NewError("", err.Error(), true))
	}
	if !matched {
		s.manager.AbandonViewer(ctx, viewerID)
		return []bridge.Message{timerStatus(bridge.TimerStatus{Known: false})}
	}

	replies := []bridge.Message{timerStatus(nav.Status)}
	if nav.Challenge != nil {
		replies = append(replies, showChallenge(*nav.Challenge))
	}
	return replies
}

func (s *Service) handleRequestChallenge(viewerID, destinationID string) []bridge.Message {
	if destinationID == "" {
		bound, ok := s.registry.DestinationOf(viewerID)
		if !ok {
			return reply(bridge.NewError("", "viewer is not on a monitored destination", true))
		}
		destinationID = bound
	}

	show, err := s.registry.ChallengeFor(destinationID, bridge.ReasonStart)
	if err != nil {
		return reply(bridge.NewError("", err.Error(), false))
	}
	s.registry.Attach(viewerID, destinationID)
	return []bridge.Message{showChallenge(show)}
}

func (s *Service) handleTrigger(viewerID string) []bridge.Message {
	dest, ok := s.registry.DestinationOf(viewerID)
	if !ok {
		return reply(bridge.NewError("", "viewer is not on a monitored destination", true))
	}

	show, err := s.registry.ChallengeFor(dest, bridge.ReasonStart)
	if err != nil {
		return reply(bridge.NewError("", err.Error(), false))
	}

	s.logger.Info().Str("viewer", viewerID).Str("destination", dest).Msg("Challenge triggered manually")
	return []bridge.Message{showChallenge(show)}
}

func (s *Service) handleResolved(ctx context.Context, viewerID string, res bridge.ChallengeResolved) []bridge.Message {
	if !res.Solved {
		if res.AttemptID != "" {
			if err := s.manager.Abandon(ctx, res.AttemptID); err != nil {
				s.logger.Debug().Err(err).Str("attempt", res.AttemptID).Msg("Failed to abandon attempt")
			}
		}
		return nil
	}

	var (
		dest    string
		granted int
	)
	if res.AttemptID != "" {
		var err error
		dest, granted, err = s.manager.Resolve(ctx, res.AttemptID)
		if err != nil {
			return reply(attemptError(err))
		}
	} else {
		bound, ok := s.registry.DestinationOf(viewerID)
		if !ok {
			return reply(bridge.NewError("", "viewer is not on a monitored destination", true))
		}
		dest, granted = bound, res.GrantedSeconds
	}

	if _, err := s.registry.OnChallengeResolved(dest, granted); err != nil {
		s.logger.Warn().Err(err).Str("destination", dest).Msg("Failed to start access timer")
		return reply(bridge.NewError("", err.Error(), false))
	}
	return []bridge.Message{timerStatus(s.registry.Status(dest))}
}

func (s *Service) handleAttemptStart(ctx context.Context, viewerID string, cmd bridge.AttemptCommand) []bridge.Message {
	dest := cmd.DestinationID
	if dest == "" {
		bound, ok := s.registry.DestinationOf(viewerID)
		if !ok {
			return reply(bridge.NewError("", "viewer is not on a monitored destination", true))
		}
		dest = bound
	}

	rating, err := s.registry.TargetRating(dest)
	if err != nil {
		return reply(bridge.NewError("", err.Error(), false))
	}

	view, err := s.manager.Start(ctx, viewerID, dest, rating, s.registry.Settings().Economy)
	if err != nil {
		s.logger.Warn().Err(err).Str("destination", dest).Int("rating", rating).Msg("Failed to start attempt")
		return reply(attemptError(err))
	}
	return []bridge.Message{attemptState(view)}
}

func (s *Service) attemptReply(view challenge.View, err error) []bridge.Message {
	if err != nil {
		return reply(attemptError(err))
	}
	return []bridge.Message{attemptState(view)}
}

func attemptError(err error) bridge.Message {
	switch {
	case errors.Is(err, corpus.ErrNoPuzzle), errors.Is(err, challenge.ErrNotSolved), errors.Is(err, context.DeadlineExceeded):
		return bridge.NewError("", err.Error(), true)
	default:
		return bridge.NewError("", err.Error(), false)
	}
}

func reply(msg bridge.Message) []bridge.Message {
	return []bridge.Message{msg}
}

func timerStatus(status bridge.TimerStatus) bridge.Message {
	return bridge.Message{Kind: bridge.KindTimerStatus, TimerStatus: &status}
}

func showChallenge(show bridge.ShowChallenge) bridge.Message {
	return bridge.Message{Kind: bridge.KindShowChallenge, ShowChallenge: &show}
}

func attemptState(view challenge.View) bridge.Message {
	return bridge.Message{Kind: bridge.KindAttemptState, AttemptState: &view}
}
