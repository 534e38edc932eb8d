package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"outreach-dispatch-go/internal/credential"
)

// GmailTransport sends through the Gmail API using the acquired access
// token. The service is built per send: tokens rotate per user and the
// API client is cheap to construct.
type GmailTransport struct{}

// NewGmailTransport creates a Gmail API transport.
func NewGmailTransport() *GmailTransport {
	return &GmailTransport{}
}

// Send implements Transport.
func (t *GmailTransport) Send(ctx context.Context, cred *credential.Credential, to, subject, body string) (string, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken})
	service, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return "", Transient(fmt.Errorf("failed to create Gmail service: %w", err))
	}

	raw := buildMessage(cred.SenderEmail, to, subject, body)
	msg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(raw)),
	}

	sent, err := service.Users.Messages.Send(cred.SenderEmail, msg).Context(ctx).Do()
	if err != nil {
		return "", classifyGoogleError(err)
	}
	return sent.Id, nil
}

// classifyGoogleError maps Gmail API failures onto the transport error
// taxonomy: 4xx rejections are permanent except quota pressure (429)
// and auth expiry (401), which a later attempt can survive.
func classifyGoogleError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 429:
			return Transient(err)
		case gerr.Code == 401:
			return Transient(err)
		case gerr.Code >= 400 && gerr.Code < 500:
			return Permanent(err)
		default:
			return Transient(err)
		}
	}
	// Heuristic fallback for wrapped provider messages.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "invalid to header") || strings.Contains(msg, "invalid recipient") {
		return Permanent(err)
	}
	return Transient(err)
}

// buildMessage assembles a minimal RFC 822 plain-text message.
func buildMessage(from, to, subject, body string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", to))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}
