package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/docrelay/internal/catalog"
	"github.com/koustreak/docrelay/internal/errs"
	"github.com/koustreak/docrelay/internal/index"
	"github.com/koustreak/docrelay/internal/metrics"
)

var testFiles = []File{
	{Path: "invoice/a.pdf", Name: "a.pdf", URL: "http://cdn.test/documents/invoice/a.pdf"},
	{Path: "invoice/b.pdf", Name: "b.pdf", URL: "http://cdn.test/documents/invoice/b.pdf"},
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod(" Email ")
	require.NoError(t, err)
	assert.Equal(t, MethodEmail, m)

	m, err = ParseMethod("whatsapp")
	require.NoError(t, err)
	assert.Equal(t, MethodWhatsApp, m)
	assert.Equal(t, "whatsapp", m.String())

	_, err = ParseMethod("fax")
	assert.True(t, errs.IsInvalidInput(err))
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"(11) 98765-4321", "5511987654321"},
		{"+55 11 98765-4321", "5511987654321"},
		{"", ""},
		{"abc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.in, "55"))
		})
	}
}

func TestEmailSender_Send(t *testing.T) {
	var got emailRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"msg_1"}`))
	}))
	defer srv.Close()

	s := NewEmailSender(EmailOptions{Endpoint: srv.URL, APIKey: "re_key", From: "Docs <docs@test>"})
	err := s.Send(context.Background(), Recipient{Name: "Ana", Email: "ana@test"}, testFiles, catalog.CategoryInvoice)
	require.NoError(t, err)

	assert.Equal(t, "Bearer re_key", auth)
	assert.Equal(t, []string{"ana@test"}, got.To)
	assert.Equal(t, "Docs <docs@test>", got.From)
	assert.Equal(t, "Seus documentos - Notas Fiscais", got.Subject)
	assert.Contains(t, got.HTML, "Olá Ana!")
	assert.Contains(t, got.HTML, testFiles[0].URL)
	assert.Contains(t, got.HTML, testFiles[1].URL)
}

func TestEmailSender_EscapesName(t *testing.T) {
	var got emailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewEmailSender(EmailOptions{Endpoint: srv.URL, APIKey: "k"})
	require.NoError(t, s.Send(context.Background(), Recipient{Name: "<b>x</b>", Email: "x@test"}, testFiles, catalog.CategoryTax))
	assert.NotContains(t, got.HTML, "<b>x</b>")
	assert.Equal(t, "Seus documentos - Documentos Fiscais", got.Subject)
}

func TestEmailSender_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"unauthorized", http.StatusUnauthorized, errs.IsPermissionDenied},
		{"rate limited", http.StatusTooManyRequests, errs.IsConnectionFailed},
		{"server error", http.StatusBadGateway, errs.IsConnectionFailed},
		{"bad request", http.StatusUnprocessableEntity, errs.IsInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			s := NewEmailSender(EmailOptions{Endpoint: srv.URL, APIKey: "k"})
			err := s.Send(context.Background(), Recipient{Email: "x@test"}, testFiles, catalog.CategoryInvoice)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected kind: %v", err)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestEmailSender_MissingAddress(t *testing.T) {
	s := NewEmailSender(EmailOptions{APIKey: "k"})
	err := s.Send(context.Background(), Recipient{Name: "Ana"}, testFiles, catalog.CategoryInvoice)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestWhatsAppSender_Send(t *testing.T) {
	var got whatsAppRequest
	var path, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, auth = r.URL.Path, r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	s := NewWhatsAppSender(WhatsAppOptions{Endpoint: srv.URL + "/", Token: "tok", PhoneNumberID: "123"})
	err := s.Send(context.Background(), Recipient{Name: "Ana", Phone: "(11) 98765-4321"}, testFiles, catalog.CategoryTax)
	require.NoError(t, err)

	assert.Equal(t, "/123/messages", path)
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "5511987654321", got.To)
	assert.Equal(t, "text", got.Type)
	assert.Contains(t, got.Text.Body, "Documentos Fiscais")
	assert.Contains(t, got.Text.Body, testFiles[1].URL)
}

func TestWhatsAppSender_GraphError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","code":100}}`))
	}))
	defer srv.Close()

	s := NewWhatsAppSender(WhatsAppOptions{Endpoint: srv.URL, PhoneNumberID: "123"})
	err := s.Send(context.Background(), Recipient{Phone: "11987654321"}, testFiles, catalog.CategoryInvoice)
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
	assert.Contains(t, err.Error(), "Invalid parameter")
}

func TestWhatsAppSender_NotConfigured(t *testing.T) {
	s := NewWhatsAppSender(WhatsAppOptions{})
	err := s.Send(context.Background(), Recipient{Phone: "11987654321"}, testFiles, catalog.CategoryInvoice)
	assert.True(t, errs.IsInvalidInput(err))
}

type fakeSender struct {
	calls int
	err   error
}

func (f *fakeSender) Send(context.Context, Recipient, []File, catalog.Category) error {
	f.calls++
	return f.err
}

func TestDispatcher_Routes(t *testing.T) {
	email := &fakeSender{}
	wa := &fakeSender{err: errors.New("boom")}
	d := NewDispatcher(email, wa, nil, metrics.New())
	ctx := context.Background()
	to := RecipientOf(&index.Client{Name: "Ana", Email: "a@test", WhatsApp: "1"})

	require.NoError(t, d.Send(ctx, MethodEmail, to, testFiles, catalog.CategoryInvoice))
	assert.Equal(t, 1, email.calls)

	assert.Error(t, d.Send(ctx, MethodWhatsApp, to, testFiles, catalog.CategoryInvoice))
	assert.Equal(t, 1, wa.calls)
}

func TestDispatcher_Rejects(t *testing.T) {
	d := NewDispatcher(&fakeSender{}, nil, nil, nil)
	ctx := context.Background()

	err := d.Send(ctx, MethodWhatsApp, Recipient{}, testFiles, catalog.CategoryInvoice)
	assert.True(t, errs.IsInvalidInput(err))

	err = d.Send(ctx, Method(42), Recipient{}, testFiles, catalog.CategoryInvoice)
	assert.True(t, errs.IsInvalidInput(err))

	err = d.Send(ctx, MethodEmail, Recipient{}, nil, catalog.CategoryInvoice)
	assert.True(t, errs.IsInvalidInput(err))
}
