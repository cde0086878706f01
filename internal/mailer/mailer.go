package mailer

import (
	"context"
	"errors"
)

var ErrNotConfigured = errors.New("mailer not configured")

type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers one already-rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
