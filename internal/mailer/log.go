package mailer

import (
	"context"

	"github.com/unclebandit/bulkmailer/internal/zlog"
)

// LogTransport accepts every message and only logs it. It is the default
// driver for local runs.
type LogTransport struct{}

func (LogTransport) Send(_ context.Context, msg Message) error {
	zlog.Logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("attachments", len(msg.Attachments)).
		Msg("📧 mail sent (log driver)")
	return nil
}
