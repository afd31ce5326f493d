package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/koustreak/docrelay/internal/catalog"
	"github.com/koustreak/docrelay/internal/errs"
	"github.com/koustreak/docrelay/internal/pipeline"
)

func scopeOf(r *http.Request) (catalog.Scope, error) {
	q := r.URL.Query()
	cat, err := catalog.ParseCategory(q.Get("type"))
	if err != nil {
		return catalog.Scope{}, err
	}
	scope := catalog.Scope{OwnerID: q.Get("client_id"), Category: cat}
	return scope, scope.Validate()
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errs.Newf(errs.ErrKindInvalidInput, "%s must be a non-negative integer", name)
	}
	return n, nil
}

func boolParam(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func (s *Server) handleEnsureBucket(w http.ResponseWriter, r *http.Request) {
	if err := s.Ready.Ensure(r.Context(), s.Bucket, true); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"bucket": s.Bucket, "state": "ready"})
}

// GET /v1/documents?type=&client_id=&page=&refresh=
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := intParam(r, "page", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	p, err := s.Catalog.List(r.Context(), scope, page, boolParam(r, "refresh"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 10)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entries, err := s.Catalog.Recent(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// POST /v1/documents, multipart with one or more "file" parts plus
// "type" and an optional "client_id".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	cat, err := catalog.ParseCategory(r.FormValue("type"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no file parts")
		return
	}

	files := make([]pipeline.File, 0, len(headers))
	for _, fh := range headers {
		files = append(files, partFile(fh))
	}

	res, err := s.Uploader.Upload(r.Context(), files, r.FormValue("client_id"), cat)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	code := http.StatusOK
	switch res.Outcome() {
	case pipeline.OutcomePartial:
		code = http.StatusMultiStatus
	case pipeline.OutcomeFailed:
		code = http.StatusBadGateway
	}
	writeJSON(w, code, res)
}

func partFile(fh *multipart.FileHeader) pipeline.File {
	return pipeline.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// DELETE /v1/documents?path=
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.Deleter.Delete(r.Context(), r.URL.Query().Get("path")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/documents/reconcile?type=&client_id=
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rep, err := s.Catalog.Reconcile(r.Context(), scope)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.Catalog.Invalidate(scope)
	writeJSON(w, http.StatusOK, rep)
}
