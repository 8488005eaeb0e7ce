package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"eventAdmission/internal/model"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Directory resolves where a user's notifications go.
type Directory interface {
	ContactOf(ctx context.Context, userID int64) (*model.Contact, error)
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Mailer struct {
	cfg  Config
	dir  Directory
	log  *zerolog.Logger
	send sendFunc
}

// New returns a mailer. With an empty Host messages are only logged.
func New(cfg Config, dir Directory, log *zerolog.Logger) *Mailer {
	return &Mailer{cfg: cfg, dir: dir, log: log, send: smtp.SendMail}
}

// Notify emails the notification's user.
func (m *Mailer) Notify(ctx context.Context, n model.Notification) error {
	contact, err := m.dir.ContactOf(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}
	if contact.Email == "" {
		m.log.Warn().Int64("user_id", n.UserID).Msg("user has no email, skipping notification")
		return nil
	}

	subject, body := Compose(n, contact)
	if m.cfg.Host == "" {
		m.log.Info().
			Str("email", contact.Email).
			Str("kind", string(n.Kind)).
			Str("subject", subject).
			Msg("smtp not configured, email not sent")
		return nil
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	msg := buildMessage(m.cfg.From, contact.Email, subject, body)
	if err := m.send(addr, auth, m.cfg.From, []string{contact.Email}, msg); err != nil {
		m.log.Warn().Err(err).Str("email", contact.Email).Msg("failed to send email")
		return fmt.Errorf("send email: %w", err)
	}

	m.log.Info().Str("email", contact.Email).Str("kind", string(n.Kind)).Int64("event_id", n.EventID).Msg("email sent")
	return nil
}

// Compose renders subject and body for a notification.
func Compose(n model.Notification, c *model.Contact) (subject, body string) {
	name := c.FullName
	if name == "" {
		name = "there"
	}
	when := n.StartTime.UTC().Format("2006-01-02 15:04 MST")

	switch n.Kind {
	case model.NotifyRegistered:
		subject = fmt.Sprintf("You are registered for %q", n.EventTitle)
		body = fmt.Sprintf("Hello %s,\n\nyour place at %q on %s is confirmed.", name, n.EventTitle, when)
	case model.NotifyWaitlisted:
		subject = fmt.Sprintf("You are on the waitlist for %q", n.EventTitle)
		body = fmt.Sprintf("Hello %s,\n\n%q is full. You are on the waitlist and will be notified if a place opens up.", name, n.EventTitle)
	case model.NotifyPromoted:
		subject = fmt.Sprintf("A place opened up at %q", n.EventTitle)
		body = fmt.Sprintf("Hello %s,\n\na place opened up and you are now registered for %q on %s.", name, n.EventTitle, when)
	case model.NotifyEventCancelled:
		subject = fmt.Sprintf("%q has been cancelled", n.EventTitle)
		body = fmt.Sprintf("Hello %s,\n\nunfortunately %q scheduled for %s has been cancelled.", name, n.EventTitle, when)
	case model.NotifyEventReminder:
		subject = fmt.Sprintf("Reminder: %q starts soon", n.EventTitle)
		body = fmt.Sprintf("Hello %s,\n\na reminder that %q starts on %s.", name, n.EventTitle, when)
	default:
		subject = n.EventTitle
		body = fmt.Sprintf("Hello %s,\n\nthere is an update about %q.", name, n.EventTitle)
	}
	return subject, body
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
