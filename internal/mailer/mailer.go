// Package mailer sends campaign and report mail.
package mailer

import "context"

// Message is one outbound email. HTML, when set, is sent as an alternative
// to the plain-text body.
type Message struct {
	From        string
	To          string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Transport delivers a single message. Any error means the message was not
// accepted.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}
