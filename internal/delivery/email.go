package delivery

import (
	"bytes"
	"context"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/koustreak/docrelay/internal/catalog"
	"github.com/koustreak/docrelay/internal/errs"
)

// EmailOptions configures EmailSender.
type EmailOptions struct {
	Endpoint string // Resend emails endpoint
	APIKey   string
	From     string
	Timeout  time.Duration
}

// EmailSender sends documents through the Resend HTTP API.
type EmailSender struct {
	opts   EmailOptions
	client *http.Client
}

// NewEmailSender returns an EmailSender.
func NewEmailSender(opts EmailOptions) *EmailSender {
	if opts.Endpoint == "" {
		opts.Endpoint = "https://api.resend.com/emails"
	}
	if opts.From == "" {
		opts.From = "Documentos <onboarding@resend.dev>"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	return &EmailSender{opts: opts, client: &http.Client{Timeout: opts.Timeout}}
}

var emailBody = template.Must(template.New("email").Parse(`<h1>Olá {{.Name}}!</h1>
<p>Aqui estão seus documentos conforme solicitado.</p>
<p>Você pode acessar seus documentos através dos links abaixo:</p>
<ul>
{{- range .Files}}
<li><a href="{{.URL}}">{{.Name}}</a></li>
{{- end}}
</ul>
<p>Se você tiver alguma dúvida, por favor nos contate.</p>
<br>
<p>Atenciosamente,<br>Sua Empresa</p>
`))

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (s *EmailSender) Send(ctx context.Context, to Recipient, files []File, category catalog.Category) error {
	addr := strings.TrimSpace(to.Email)
	if addr == "" {
		return errs.New(errs.ErrKindInvalidInput, "recipient has no email address")
	}
	if s.opts.APIKey == "" {
		return errs.New(errs.ErrKindPermissionDenied, "email sender has no API key")
	}

	var body bytes.Buffer
	if err := emailBody.Execute(&body, struct {
		Name  string
		Files []File
	}{to.Name, files}); err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "render email", err)
	}

	return postJSON(ctx, s.client, s.opts.Endpoint, s.opts.APIKey, emailRequest{
		From:    s.opts.From,
		To:      []string{addr},
		Subject: "Seus documentos - " + categoryLabel(category),
		HTML:    body.String(),
	})
}
