// internal/application/moderation/ports.go
package moderation

import (
	"context"
	"errors"
)

// ------------------------------------------------------------
// Ports
// ------------------------------------------------------------

// Mail is a plain-text operational message.
type Mail struct {
	To      string
	Subject string
	Text    string
}

// Mailer delivers moderation alerts. nil disables alerts.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// Actor is the authenticated caller of an admin operation.
type Actor struct {
	UID   string
	Admin bool
}

// ------------------------------------------------------------
// Errors
// ------------------------------------------------------------

var (
	ErrPermissionDenied = errors.New("moderation: admin only")
	ErrInvalidArgument  = errors.New("moderation: invalid argument")
)
