package mailer

import (
	"context"
	"io"
	"time"

	"gopkg.in/mail.v2"
)

type SMTPClient struct {
	smtpHost string
	smtpPort int
	username string
	password string
}

func NewSMTPClient(smtpHost string, smtpPort int, username, password string) *SMTPClient {
	return &SMTPClient{
		smtpHost: smtpHost,
		smtpPort: smtpPort,
		username: username,
		password: password,
	}
}

func (c *SMTPClient) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dialer := mail.NewDialer(c.smtpHost, c.smtpPort, c.username, c.password)
	dialer.Timeout = 30 * time.Second

	return dialer.DialAndSend(buildMessage(msg))
}

func buildMessage(msg Message) *mail.Message {
	m := mail.NewMessage()

	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)

	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}

	for _, a := range msg.Attachments {
		data := a.Data
		settings := []mail.FileSetting{
			mail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		}
		if a.ContentType != "" {
			settings = append(settings, mail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}))
		}
		m.Attach(a.Filename, settings...)
	}
	return m
}
