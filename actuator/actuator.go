package actuator

import (
	"context"
	"time"

	"bandlight/types"
)

// Opener acquires an actuator link.
type Opener interface {
	Open(ctx context.Context) (Gateway, error)
}

// Gateway delivers light states. Close must be called exactly once.
type Gateway interface {
	Send(s types.State) error
	Close() error
}

// Nop accepts and discards every command. It backs the "none" actuator.
type Nop struct{}

func (Nop) Open(context.Context) (Gateway, error) { return Nop{}, nil }
func (Nop) Send(types.State) error                { return nil }
func (Nop) Close() error                          { return nil }

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
