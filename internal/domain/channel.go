package domain

import "context"

// Channel is a user-facing front end (HTTP, Telegram, CLI). Start blocks
// until ctx is cancelled.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
}
