// internal/domain/match/status.go
package match

import (
	"errors"
	"fmt"
)

// SessionStatus is the lifecycle state of a pair session.
type SessionStatus string

const (
	StatusPending  SessionStatus = "pending"
	StatusAccepted SessionStatus = "accepted"
	StatusRejected SessionStatus = "rejected"
	StatusExpired  SessionStatus = "expired"
)

// QueueStatus is the lifecycle state of a queue document.
type QueueStatus string

const (
	QueueIdle      QueueStatus = "idle"
	QueueSearching QueueStatus = "searching"
	QueueExpired   QueueStatus = "expired"
)

// Response is one participant's answer to a pending session.
type Response string

const (
	ResponseNone     Response = ""
	ResponseAccepted Response = "accepted"
	ResponseRejected Response = "rejected"
)

var (
	ErrInvalidTransition = errors.New("match: invalid status transition")
	ErrInvalidStatus     = errors.New("match: invalid status")
)

// sessionTransitions lists the legal next states. "" is the absent document.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	"":            {StatusPending},
	StatusPending: {StatusAccepted, StatusRejected, StatusExpired},
}

var queueTransitions = map[QueueStatus][]QueueStatus{
	"":             {QueueSearching, QueueIdle},
	QueueIdle:      {QueueSearching},
	QueueSearching: {QueueIdle, QueueExpired},
	QueueExpired:   {QueueSearching, QueueIdle},
}

func ParseSessionStatus(s string) (SessionStatus, error) {
	switch st := SessionStatus(s); st {
	case StatusPending, StatusAccepted, StatusRejected, StatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("%w: session %q", ErrInvalidStatus, s)
}

func ParseQueueStatus(s string) (QueueStatus, error) {
	switch st := QueueStatus(s); st {
	case QueueIdle, QueueSearching, QueueExpired:
		return st, nil
	}
	return "", fmt.Errorf("%w: queue %q", ErrInvalidStatus, s)
}

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusExpired
}

// ValidateSessionTransition is the single gate every session status write
// goes through. Rewriting the current status is allowed.
func ValidateSessionTransition(from, to SessionStatus) error {
	if from == to && from != "" {
		return nil
	}
	for _, next := range sessionTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: session %q -> %q", ErrInvalidTransition, from, to)
}

func ValidateQueueTransition(from, to QueueStatus) error {
	if from == to && from != "" {
		return nil
	}
	for _, next := range queueTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: queue %q -> %q", ErrInvalidTransition, from, to)
}
