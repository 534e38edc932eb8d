// Package fetcher pulls new inbound mail from the shared reply
// mailbox.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"outreach-dispatch-go/internal/config"
)

// InboundEmail is one fetched message, before classification.
type InboundEmail struct {
	MessageID  string
	From       string
	To         []string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// Fetcher fetches new inbound messages.
type Fetcher interface {
	FetchNew(ctx context.Context) ([]InboundEmail, error)
	Close() error
}

// IMAPFetcher implements Fetcher over IMAP.
type IMAPFetcher struct {
	client    *client.Client
	lastCheck time.Time
}

// NewIMAPFetcher connects and logs in to the configured mailbox.
func NewIMAPFetcher(cfg *config.IMAPConfig) (*IMAPFetcher, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(cfg.User, cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return &IMAPFetcher{
		client:    c,
		lastCheck: time.Now().Add(-24 * time.Hour), // start with the last day
	}, nil
}

// FetchNew returns messages received since the last check.
func (f *IMAPFetcher) FetchNew(ctx context.Context) ([]InboundEmail, error) {
	_, err := f.client.Select("INBOX", false)
	if err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = f.lastCheck

	uids, err := f.client.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	if len(uids) == 0 {
		f.lastCheck = time.Now()
		return []InboundEmail{}, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	section := &imap.BodySectionName{}
	go func() {
		done <- f.client.Fetch(seqset,
			[]imap.FetchItem{imap.FetchEnvelope, section.FetchItem(), imap.FetchInternalDate},
			messages)
	}()

	var emails []InboundEmail
	for msg := range messages {
		email, err := f.parseMessage(msg, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message: %v", err)
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	f.lastCheck = time.Now()
	return emails, nil
}

func (f *IMAPFetcher) parseMessage(msg *imap.Message, section *imap.BodySectionName) (InboundEmail, error) {
	email := InboundEmail{ReceivedAt: msg.InternalDate}

	if msg.Envelope != nil {
		email.MessageID = msg.Envelope.MessageId
		email.Subject = msg.Envelope.Subject
		if len(msg.Envelope.From) > 0 {
			email.From = msg.Envelope.From[0].Address()
		}
		for _, addr := range msg.Envelope.To {
			email.To = append(email.To, addr.Address())
		}
	}
	if email.MessageID == "" {
		return email, fmt.Errorf("message has no Message-ID")
	}

	if err := f.parseBody(msg, section, &email); err != nil {
		return email, err
	}
	return email, nil
}

func (f *IMAPFetcher) parseBody(msg *imap.Message, section *imap.BodySectionName, email *InboundEmail) error {
	r := msg.GetBody(section)
	if r == nil {
		return nil
	}

	entity, err := message.Read(r)
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read part: %w", err)
			}

			content, err := io.ReadAll(p.Body)
			if err != nil {
				return fmt.Errorf("failed to read part body: %w", err)
			}

			if strings.Contains(p.Header.Get("Content-Type"), "text/plain") {
				email.Body = string(content)
			}
		}
	} else {
		content, err := io.ReadAll(entity.Body)
		if err != nil {
			return fmt.Errorf("failed to read message body: %w", err)
		}
		email.Body = string(content)
	}

	return nil
}

// Close logs out of the mailbox.
func (f *IMAPFetcher) Close() error {
	return f.client.Logout()
}
