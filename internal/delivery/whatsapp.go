package delivery

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/koustreak/docrelay/internal/catalog"
	"github.com/koustreak/docrelay/internal/errs"
)

// WhatsAppOptions configures WhatsAppSender.
type WhatsAppOptions struct {
	Endpoint      string // Graph API base, e.g. https://graph.facebook.com/v18.0
	Token         string
	PhoneNumberID string
	CountryCode   string
	Timeout       time.Duration
}

// WhatsAppSender sends a text message with document links through the
// WhatsApp Cloud API.
type WhatsAppSender struct {
	opts   WhatsAppOptions
	client *http.Client
}

// NewWhatsAppSender returns a WhatsAppSender.
func NewWhatsAppSender(opts WhatsAppOptions) *WhatsAppSender {
	if opts.Endpoint == "" {
		opts.Endpoint = "https://graph.facebook.com/v18.0"
	}
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	if opts.CountryCode == "" {
		opts.CountryCode = "55"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	return &WhatsAppSender{opts: opts, client: &http.Client{Timeout: opts.Timeout}}
}

// NormalizePhone keeps the digits of phone and prefixes countryCode when
// it is not already there.
func NormalizePhone(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" || strings.HasPrefix(digits, countryCode) {
		return digits
	}
	return countryCode + digits
}

type whatsAppRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

func whatsAppMessage(name string, files []File, category catalog.Category) string {
	var b strings.Builder
	b.WriteString("Olá " + name + "!\n\n")
	b.WriteString("Aqui estão seus " + categoryLabel(category) + " conforme solicitado.\n\n")
	b.WriteString("Você pode acessar seus documentos através dos links abaixo:\n")
	for _, f := range files {
		b.WriteString(f.URL + "\n")
	}
	b.WriteString("\nSe você tiver alguma dúvida, por favor nos contate.\n\n")
	b.WriteString("Atenciosamente,\nSua Empresa")
	return b.String()
}

func (s *WhatsAppSender) Send(ctx context.Context, to Recipient, files []File, category catalog.Category) error {
	phone := NormalizePhone(to.Phone, s.opts.CountryCode)
	if phone == "" {
		return errs.New(errs.ErrKindInvalidInput, "recipient has no WhatsApp number")
	}
	if s.opts.PhoneNumberID == "" {
		return errs.New(errs.ErrKindInvalidInput, "WhatsApp phone number ID is not configured")
	}

	req := whatsAppRequest{MessagingProduct: "whatsapp", To: phone, Type: "text"}
	req.Text.Body = whatsAppMessage(to.Name, files, category)
	return postJSON(ctx, s.client, s.opts.Endpoint+"/"+s.opts.PhoneNumberID+"/messages", s.opts.Token, req)
}
