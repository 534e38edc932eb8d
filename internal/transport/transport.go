// Package transport sends outbound mail through the provider matching
// the acquired credential. There is exactly one send path in the
// system; every purpose (cold outreach, replies, confirmations) goes
// through a Transport.
package transport

import (
	"context"
	"errors"
	"fmt"

	"outreach-dispatch-go/internal/credential"
	"outreach-dispatch-go/internal/model"
)

// Transport submits one message and returns the provider's message id.
type Transport interface {
	Send(ctx context.Context, cred *credential.Credential, to, subject, body string) (string, error)
}

// Error classifies transport failures. Transient errors count toward
// the retry cap and may be re-submitted; permanent rejections (invalid
// recipient, malformed message) are terminal.
type Error struct {
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("transport (%s): %v", kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable transport failure.
func Transient(err error) error { return &Error{Err: err} }

// Permanent wraps err as a terminal transport failure.
func Permanent(err error) error { return &Error{Permanent: true, Err: err} }

// IsPermanent reports whether err is a permanent transport failure.
// Unclassified errors (timeouts, network) are treated as transient.
func IsPermanent(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Permanent
}

// Mux routes each send to the transport for the credential's provider:
// Gmail goes through the Gmail API, everything else through SMTP
// submission.
type Mux struct {
	gmail Transport
	smtp  Transport
}

// NewMux creates the production transport multiplexer.
func NewMux() *Mux {
	return &Mux{gmail: NewGmailTransport(), smtp: NewSMTPTransport()}
}

// Send implements Transport.
func (m *Mux) Send(ctx context.Context, cred *credential.Credential, to, subject, body string) (string, error) {
	switch cred.Provider {
	case model.ProviderGmail:
		return m.gmail.Send(ctx, cred, to, subject, body)
	default:
		return m.smtp.Send(ctx, cred, to, subject, body)
	}
}
