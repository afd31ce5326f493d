// Package delivery sends stored documents to clients by email or WhatsApp.
package delivery

import (
	"context"
	"strings"

	"github.com/koustreak/docrelay/internal/catalog"
	"github.com/koustreak/docrelay/internal/errs"
	"github.com/koustreak/docrelay/internal/index"
	"github.com/koustreak/docrelay/internal/logger"
	"github.com/koustreak/docrelay/internal/metrics"
)

// Method is a delivery channel.
type Method int

const (
	MethodEmail Method = iota + 1
	MethodWhatsApp
)

func (m Method) String() string {
	switch m {
	case MethodEmail:
		return "email"
	case MethodWhatsApp:
		return "whatsapp"
	default:
		return "unknown"
	}
}

// ParseMethod parses "email" or "whatsapp", case-insensitively.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "email":
		return MethodEmail, nil
	case "whatsapp":
		return MethodWhatsApp, nil
	}
	return 0, errs.Newf(errs.ErrKindInvalidInput, "unknown delivery method %q", s)
}

// Recipient is who a delivery goes to.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

// RecipientOf builds a Recipient from a registered client.
func RecipientOf(c *index.Client) Recipient {
	return Recipient{Name: c.Name, Email: c.Email, Phone: c.WhatsApp}
}

// File is a stored document referenced by a delivery.
type File struct {
	Path string
	Name string
	URL  string
}

// Sender delivers links to files over one channel.
type Sender interface {
	Send(ctx context.Context, to Recipient, files []File, category catalog.Category) error
}

// Dispatcher routes a delivery to the sender for its method.
type Dispatcher struct {
	senders map[Method]Sender
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewDispatcher returns a Dispatcher. A nil sender leaves its method
// unavailable.
func NewDispatcher(email, whatsapp Sender, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{
		senders: make(map[Method]Sender, 2),
		log:     logger.OrNop(log).Component("delivery"),
		metrics: m,
	}
	if email != nil {
		d.senders[MethodEmail] = email
	}
	if whatsapp != nil {
		d.senders[MethodWhatsApp] = whatsapp
	}
	return d
}

// Send delivers files to the recipient over method.
func (d *Dispatcher) Send(ctx context.Context, method Method, to Recipient, files []File, category catalog.Category) error {
	s, ok := d.senders[method]
	if !ok {
		return errs.Newf(errs.ErrKindInvalidInput, "delivery method %s is not available", method)
	}
	if len(files) == 0 {
		return errs.New(errs.ErrKindInvalidInput, "no files to send")
	}

	err := s.Send(ctx, to, files, category)
	d.metrics.Delivered(method.String(), err)

	fields := map[string]interface{}{
		"method":   method.String(),
		"files":    len(files),
		"category": string(category),
	}
	if err != nil {
		d.log.ErrorWith("delivery failed", err, fields)
		return err
	}
	d.log.InfoWith("delivery sent", fields)
	return nil
}

func categoryLabel(c catalog.Category) string {
	if c == catalog.CategoryInvoice {
		return "Notas Fiscais"
	}
	return "Documentos Fiscais"
}
