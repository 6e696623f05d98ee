package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/bulkmailer/internal/zlog"
)

func init() { zlog.Discard() }

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, 3, cfg.Queue.MaxRedeliveries)
	assert.Equal(t, "@every 30s", cfg.Scheduler.Spec)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.StallAfter)
	assert.Equal(t, uint(3), cfg.Delivery.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Delivery.InitialBackoff)
	assert.Equal(t, "log", cfg.Mail.Driver)
	assert.Empty(t, cfg.Mail.AdminReportEmail)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "mailer")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("QUEUE_DRIVER", "amqp")
	t.Setenv("QUEUE_URL", "amqp://rabbit:5672/")
	t.Setenv("DELIVERY_MAX_ATTEMPTS", "5")
	t.Setenv("DELIVERY_MAX_BACKOFF", "2s")
	t.Setenv("MAIL_DRIVER", "smtp")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("ADMIN_REPORT_EMAIL", "admin@x.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "amqp://rabbit:5672/", cfg.Queue.URL)
	assert.Equal(t, uint(5), cfg.Delivery.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Delivery.MaxBackoff)
	assert.Equal(t, 2525, cfg.Mail.SMTPPort)
	assert.Equal(t, "admin@x.com", cfg.Mail.AdminReportEmail)
	assert.Equal(t, "postgres://mailer:secret@db:5432/bulkmailer?sslmode=disable", cfg.Database.DSN())
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown store":         {"STORE_DRIVER": "mysql"},
		"unknown queue":         {"QUEUE_DRIVER": "kafka"},
		"unknown mail":          {"MAIL_DRIVER": "ses"},
		"zero attempts":         {"DELIVERY_MAX_ATTEMPTS": "0"},
		"memory queue external": {"EMBEDDED_WORKER": "false"},
		"bad duration":          {"QUEUE_RETRY_DELAY": "soon"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
