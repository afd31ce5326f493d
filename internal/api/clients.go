package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/koustreak/docrelay/internal/catalog"
	"github.com/koustreak/docrelay/internal/delivery"
	"github.com/koustreak/docrelay/internal/errs"
	"github.com/koustreak/docrelay/internal/index"
)

type createClientRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	WhatsApp string `json:"whatsapp"`
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c := &index.Client{Name: req.Name, Email: req.Email, WhatsApp: req.WhatsApp}
	if err := s.Clients.Create(r.Context(), c); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	list, err := s.Clients.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []index.Client{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": list})
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	c, err := s.Clients.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type sendRequest struct {
	ClientID string   `json:"client_id"`
	Method   string   `json:"method"`
	Type     string   `json:"type"`
	Paths    []string `json:"paths"`
}

// POST /v1/send delivers indexed documents to a registered client.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if s.Delivery == nil {
		writeError(w, http.StatusServiceUnavailable, "delivery is not configured")
		return
	}

	method, err := delivery.ParseMethod(req.Method)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cat, err := catalog.ParseCategory(req.Type)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "paths are required")
		return
	}

	ctx := r.Context()
	client, err := s.Clients.Get(ctx, req.ClientID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	files, err := s.deliverable(r, client.ID, req.Paths)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.Delivery.Send(ctx, method, delivery.RecipientOf(client), files, cat); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": len(files), "method": method.String()})
}

// deliverable resolves the indexed documents at paths, rejecting paths that
// are unknown or belong to another client.
func (s *Server) deliverable(r *http.Request, clientID string, paths []string) ([]delivery.File, error) {
	docs, err := s.Docs.ByKeys(r.Context(), paths)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]index.Document, len(docs))
	for _, d := range docs {
		byKey[d.StorageKey] = d
	}

	files := make([]delivery.File, 0, len(paths))
	for _, p := range paths {
		d, ok := byKey[p]
		if !ok {
			return nil, errs.Newf(errs.ErrKindNotFound, "document %q is not indexed", p)
		}
		if d.OwnerID != "" && d.OwnerID != clientID {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "document %q belongs to another client", p)
		}
		url := d.URL
		if s.URLs != nil {
			url = s.URLs.Resolve(r.Context(), s.Bucket, p)
		}
		files = append(files, delivery.File{Path: p, Name: d.DisplayName, URL: url})
	}
	return files, nil
}
