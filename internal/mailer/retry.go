package mailer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/unclebandit/bulkmailer/internal/zlog"
)

// Retrying wraps a Transport and retries failed sends with exponential
// backoff. Only the last error is returned.
type Retrying struct {
	Next           Transport
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewRetrying(next Transport, maxAttempts uint, initial, maxBackoff time.Duration) *Retrying {
	return &Retrying{Next: next, MaxAttempts: maxAttempts, InitialBackoff: initial, MaxBackoff: maxBackoff}
}

func (r *Retrying) Send(ctx context.Context, msg Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.InitialBackoff
	b.MaxInterval = r.MaxBackoff

	attempt := 0
	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			attempt++
			return struct{}{}, r.Next.Send(ctx, msg)
		},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			zlog.Logger.Debug().Err(err).
				Str("to", msg.To).
				Int("attempt", attempt).
				Dur("next_in", next).
				Msg("send failed, retrying")
		}),
	)
	return err
}
