package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"outreach-dispatch-go/internal/credential"
)

// SMTPTransport submits through SMTP with STARTTLS. Password
// credentials use PLAIN auth; OAuth credentials (Outlook) use XOAUTH2.
type SMTPTransport struct{}

// NewSMTPTransport creates an SMTP submission transport.
func NewSMTPTransport() *SMTPTransport {
	return &SMTPTransport{}
}

// Send implements Transport. There is no provider-assigned message id
// over SMTP; the locally generated Message-ID is returned instead.
func (t *SMTPTransport) Send(ctx context.Context, cred *credential.Credential, to, subject, body string) (string, error) {
	host := cred.SMTPHost
	port := cred.SMTPPort
	if host == "" {
		return "", Permanent(fmt.Errorf("credential has no SMTP host"))
	}
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", Transient(fmt.Errorf("smtp dial failed: %w", err))
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return "", Transient(fmt.Errorf("smtp handshake failed: %w", err))
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return "", Transient(fmt.Errorf("starttls failed: %w", err))
		}
	}

	var auth smtp.Auth
	if cred.SMTPPass != "" {
		auth = smtp.PlainAuth("", cred.SMTPUser, cred.SMTPPass, host)
	} else if cred.AccessToken != "" {
		auth = xoauth2Auth{user: cred.SenderEmail, token: cred.AccessToken}
	}
	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return "", Transient(fmt.Errorf("smtp auth failed: %w", err))
		}
	}

	if err := c.Mail(cred.SenderEmail); err != nil {
		return "", classifySMTPError(err)
	}
	if err := c.Rcpt(to); err != nil {
		return "", classifySMTPError(err)
	}

	msgID := localMessageID(cred.SenderEmail)
	w, err := c.Data()
	if err != nil {
		return "", Transient(fmt.Errorf("smtp data failed: %w", err))
	}
	raw := buildMessage(cred.SenderEmail, to, subject, body)
	raw = "Message-ID: <" + msgID + ">\r\n" + raw
	if _, err := w.Write([]byte(raw)); err != nil {
		return "", Transient(fmt.Errorf("smtp write failed: %w", err))
	}
	if err := w.Close(); err != nil {
		return "", classifySMTPError(err)
	}
	if err := c.Quit(); err != nil {
		// Message already accepted; a failed QUIT does not unsend it.
		return msgID, nil
	}
	return msgID, nil
}

// classifySMTPError treats 5xx responses as permanent rejections and
// everything else (4xx, I/O) as transient.
func classifySMTPError(err error) error {
	msg := err.Error()
	if len(msg) >= 3 && msg[0] == '5' && msg[1] >= '0' && msg[1] <= '9' && msg[2] >= '0' && msg[2] <= '9' {
		return Permanent(err)
	}
	return Transient(err)
}

func localMessageID(sender string) string {
	domain := "localhost"
	if at := strings.LastIndex(sender, "@"); at >= 0 {
		domain = sender[at+1:]
	}
	return fmt.Sprintf("%d.outreach@%s", time.Now().UnixNano(), domain)
}

// xoauth2Auth implements the SASL XOAUTH2 mechanism for providers that
// accept bearer tokens over SMTP submission.
type xoauth2Auth struct {
	user  string
	token string
}

func (a xoauth2Auth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	resp := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.user, a.token)
	return "XOAUTH2", []byte(resp), nil
}

func (a xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		// Server sent an error challenge; an empty response makes it
		// fail the exchange with a proper SMTP code.
		return []byte(""), nil
	}
	return nil, nil
}
