// notifications/channel.go
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"leaseexit/models"
)

// Message is what a channel delivers for one notification record.
type Message struct {
	NotificationID string      `json:"notification_id"`
	BatchID        string      `json:"batch_id"`
	CaseID         string      `json:"case_id"`
	Event          string      `json:"event"`
	Role           models.Role `json:"role"`
	Emails         []string    `json:"emails,omitempty"`
	Subject        string      `json:"subject"`
	Body           string      `json:"body"`
	CreatedAt      time.Time   `json:"created_at"`
}

func messageFor(n *models.Notification) Message {
	return Message{
		NotificationID: n.ID.Hex(),
		BatchID:        n.BatchID,
		CaseID:         n.CaseID.Hex(),
		Event:          n.Event,
		Role:           n.RecipientRole,
		Emails:         append([]string(nil), n.RecipientEmails...),
		Subject:        n.Subject,
		Body:           n.Message,
		CreatedAt:      n.CreatedAt,
	}
}

// Channel delivers a message to one recipient role.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

var ErrNoRecipients = errors.New("no email address for role")

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailChannel sends plain text mail over SMTP.
type EmailChannel struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailChannel(cfg SMTPConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, sendMail: smtp.SendMail}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(ctx context.Context, msg Message) error {
	if len(msg.Emails) == 0 {
		return fmt.Errorf("%w: %s", ErrNoRecipients, msg.Role)
	}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}
	body := buildMail(c.cfg.From, msg.Emails, msg.Subject, msg.Body)

	// net/smtp has no context support, so the send runs aside and the caller's deadline still applies.
	done := make(chan error, 1)
	go func() {
		done <- c.sendMail(addr, auth, c.cfg.From, msg.Emails, body)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMail(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + strings.NewReplacer("\r", " ", "\n", " ").Replace(subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Publisher is the part of *nats.Conn the NATS channel needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSChannel publishes notification events for downstream consumers.
// Subject: <prefix>.<event>
type NATSChannel struct {
	pub    Publisher
	prefix string
}

// NATSEvent is the JSON schema published to NATS.
type NATSEvent struct {
	EventType    string                 `json:"event_type"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Category     string                 `json:"category"`
	Subject      string                 `json:"subject"`
	Body         string                 `json:"body"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

func NewNATSChannel(pub Publisher, prefix string) *NATSChannel {
	if prefix == "" {
		prefix = "notifications.lease_exit"
	}
	return &NATSChannel{pub: pub, prefix: prefix}
}

func (c *NATSChannel) Name() string { return "nats" }

func (c *NATSChannel) Subject(event string) string {
	if event == "" {
		event = "generic"
	}
	return c.prefix + "." + event
}

func (c *NATSChannel) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(NATSEvent{
		EventType:    msg.Event,
		Recipients:   append([]string{string(msg.Role)}, msg.Emails...),
		ResourceType: "lease_exit",
		ResourceID:   msg.CaseID,
		Category:     "lease_exit_workflow",
		Subject:      msg.Subject,
		Body:         msg.Body,
		Payload: map[string]interface{}{
			"notification_id": msg.NotificationID,
			"batch_id":        msg.BatchID,
			"role":            msg.Role,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal nats event: %w", err)
	}
	return c.pub.Publish(c.Subject(msg.Event), data)
}

// Fanout delivers through a primary channel, whose result decides the record
// status, and mirrors the message to secondary channels on a best effort basis.
type Fanout struct {
	primary Channel
	mirrors []Channel
	logger  zerolog.Logger
}

func NewFanout(logger zerolog.Logger, primary Channel, mirrors ...Channel) *Fanout {
	return &Fanout{primary: primary, mirrors: mirrors, logger: logger}
}

func (f *Fanout) Name() string { return f.primary.Name() }

func (f *Fanout) Deliver(ctx context.Context, msg Message) error {
	err := f.primary.Deliver(ctx, msg)
	for _, m := range f.mirrors {
		if merr := m.Deliver(ctx, msg); merr != nil {
			f.logger.Warn().Err(merr).
				Str("channel", m.Name()).
				Str("notification_id", msg.NotificationID).
				Msg("notification mirror failed (non-fatal)")
		}
	}
	return err
}
