// Package bridge defines the messages exchanged between viewers and the
// gate service, and carries them over WebSocket connections.
package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/goodtune/puzzlegate/internal/challenge"
	"github.com/goodtune/puzzlegate/internal/settings"
)

// Kind identifies the payload carried by a Message.
type Kind string

// Message kinds.
const (
	KindRequestChallenge  Kind = "requestChallenge"
	KindShowChallenge     Kind = "showChallenge"
	KindChallengeResolved Kind = "challengeResolved"
	KindQueryTimerStatus  Kind = "queryTimerStatus"
	KindTimerStatus       Kind = "timerStatus"
	KindTriggerChallenge  Kind = "triggerChallenge"
	KindNavigate          Kind = "navigate"
	KindAttemptStart      Kind = "attemptStart"
	KindAttemptMove       Kind = "attemptMove"
	KindAttemptHint       Kind = "attemptHint"
	KindAttemptUndo       Kind = "attemptUndo"
	KindAttemptRedo       Kind = "attemptRedo"
	KindAttemptSkip       Kind = "attemptSkip"
	KindAttemptState      Kind = "attemptState"
	KindError             Kind = "error"
)

// Challenge reasons.
const (
	ReasonStart  = "start"
	ReasonTimeUp = "timeUp"
)

// Message is the envelope exchanged on the viewer WebSocket. Exactly one
// payload pointer matching Kind is set; kinds without a payload set none.
type Message struct {
	Kind      Kind   `json:"kind"`
	RequestID string `json:"requestId,omitempty"`

	RequestChallenge  *RequestChallenge  `json:"requestChallenge,omitempty"`
	ShowChallenge     *ShowChallenge     `json:"showChallenge,omitempty"`
	ChallengeResolved *ChallengeResolved `json:"challengeResolved,omitempty"`
	TimerStatus       *TimerStatus       `json:"timerStatus,omitempty"`
	Navigate          *Navigate          `json:"navigate,omitempty"`
	Attempt           *AttemptCommand    `json:"attempt,omitempty"`
	AttemptState      *challenge.View    `json:"attemptState,omitempty"`
	Error             *Error             `json:"error,omitempty"`
}

// RequestChallenge asks for a challenge for a destination.
type RequestChallenge struct {
	DestinationID string `json:"destinationId"`
}

// ShowChallenge tells a viewer to display a puzzle.
type ShowChallenge struct {
	Reason       string               `json:"reason"`
	Rating       int                  `json:"rating"`
	SessionIndex int                  `json:"sessionIndex"`
	SessionMax   int                  `json:"sessionMax"`
	Economy      settings.Economy     `json:"economySettings"`
	Destination  settings.Destination `json:"destination"`
}

// ChallengeResolved reports the end of a challenge. When AttemptID names a
// server-side attempt its ledger total is used instead of GrantedSeconds.
type ChallengeResolved struct {
	Solved         bool   `json:"solved"`
	GrantedSeconds int    `json:"grantedSeconds"`
	AttemptID      string `json:"attemptId,omitempty"`
}

// TimerStatus reports the remaining time for the viewer's destination.
// Known is false when the viewer is not bound to a monitored destination.
type TimerStatus struct {
	DestinationID    string `json:"destinationId,omitempty"`
	RemainingSeconds int    `json:"remainingSeconds"`
	TotalSeconds     int    `json:"totalSeconds"`
	Known            bool   `json:"known"`
}

// Navigate reports that the viewer now displays url.
type Navigate struct {
	URL string `json:"url"`
}

// AttemptCommand drives a server-side puzzle attempt.
type AttemptCommand struct {
	AttemptID     string `json:"attemptId,omitempty"`
	DestinationID string `json:"destinationId,omitempty"`
	From          string `json:"from,omitempty"`
	To            string `json:"to,omitempty"`
	Promotion     string `json:"promotion,omitempty"`
}

// Error reports a failed request.
type Error struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// NewError returns an error message answering requestID.
func NewError(requestID, msg string, recoverable bool) Message {
	return Message{
		Kind:      KindError,
		RequestID: requestID,
		Error:     &Error{Message: msg, Recoverable: recoverable},
	}
}

// Decode parses a message and checks that the payload required by its kind
// is present.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Validate checks that the payload required by Kind is set.
func (m Message) Validate() error {
	var missing bool

	switch m.Kind {
	case KindRequestChallenge:
		missing = m.RequestChallenge == nil
	case KindShowChallenge:
		missing = m.ShowChallenge == nil
	case KindChallengeResolved:
		missing = m.ChallengeResolved == nil
	case KindTimerStatus:
		missing = m.TimerStatus == nil
	case KindNavigate:
		missing = m.Navigate == nil
	case KindAttemptStart, KindAttemptMove, KindAttemptHint, KindAttemptUndo, KindAttemptRedo, KindAttemptSkip:
		missing = m.Attempt == nil
	case KindAttemptState:
		missing = m.AttemptState == nil
	case KindError:
		missing = m.Error == nil
	case KindQueryTimerStatus, KindTriggerChallenge:
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}

	if missing {
		return fmt.Errorf("message %q is missing its payload", m.Kind)
	}
	return nil
}
