package notify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/pkg/config"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer delivers notifications as plain-text email over SMTP.
type Mailer struct {
	addr string
	from mail.Address
	auth smtp.Auth
	send SendFunc
	now  func() time.Time
}

// NewMailer builds a Mailer from SMTP settings.
func NewMailer(cfg config.SMTPConfig) (*Mailer, error) {
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("parse SMTP_FROM: %w", err)
	}
	m := &Mailer{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		from: *from,
		send: smtp.SendMail,
		now:  time.Now,
	}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return m, nil
}

// Notify implements Notifier.
func (m *Mailer) Notify(ctx context.Context, n domain.Notification) error {
	if strings.TrimSpace(n.Recipient.Email) == "" {
		return fmt.Errorf("%w: recipient %s has no email", ErrUndeliverable, n.Recipient.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := m.compose(n)
	return m.send(m.addr, m.auth, m.from.Address, []string{n.Recipient.Email}, msg)
}

func (m *Mailer) compose(n domain.Notification) []byte {
	to := mail.Address{Name: n.Recipient.Name, Address: n.Recipient.Email}
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.from.String())
	fmt.Fprintf(&b, "To: %s\r\n", to.String())
	fmt.Fprintf(&b, "Subject: %s\r\n", Subject(n.Kind))
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Hello %s,\r\n\r\n", n.Recipient.Name)
	fmt.Fprintf(&b, "%s.\r\n\r\n", Subject(n.Kind))
	fmt.Fprintf(&b, "Team: %s\r\nProject: %s\r\nBOM: %s\r\n", n.TeamName, n.Project, n.BOMID)
	if n.Actor.Name != "" {
		fmt.Fprintf(&b, "By: %s\r\n", n.Actor.Name)
	}
	if len(n.Materials) > 0 {
		b.WriteString("\r\nMaterials:\r\n")
		for _, mat := range n.Materials {
			fmt.Fprintf(&b, "  - %s x %d %s", mat.Name, mat.Quantity, mat.Unit)
			if mat.Specifications != "" {
				fmt.Fprintf(&b, " (%s)", mat.Specifications)
			}
			b.WriteString("\r\n")
		}
	}
	if n.Comments != "" {
		fmt.Fprintf(&b, "\r\nComments: %s\r\n", n.Comments)
	}
	return b.Bytes()
}
