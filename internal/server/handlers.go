package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"contact-import/internal/logging"
	"contact-import/internal/report"
	"contact-import/internal/schema"
	"contact-import/internal/store"

	"github.com/go-chi/chi/v5"
)

// uploadField is the multipart field holding the spreadsheet.
const uploadField = "file"

type actionCount struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

type statsResponse struct {
	Customers int           `json:"customers"`
	Contacts  int           `json:"contacts"`
	Actions   []actionCount `json:"actions"`
}

type emailsResponse struct {
	Action string   `json:"action"`
	Label  string   `json:"label"`
	Count  int      `json:"count"`
	Emails []string `json:"emails"`
}

type importErrorResponse struct {
	Error  string         `json:"error"`
	Report *report.Report `json:"report,omitempty"`
}

type flagRequest struct {
	Value *bool `json:"value"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.queries.Ping(r.Context()); err != nil {
		logging.Logf(logging.Warning, "Health check failed: %v", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing or unreadable upload field '%s': %v", uploadField, err))
		return
	}
	defer file.Close()

	src := s.source
	src.Type = ""
	reader, err := newSheetReaderFunc(src, header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := reader.ReadStream(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read '%s': %v", header.Filename, err))
		return
	}

	logging.Logf(logging.Info, "Upload '%s': %d rows received.", header.Filename, len(records))
	rep, err := s.importer.Process(r.Context(), records)
	if err != nil {
		logging.Logf(logging.Error, "Upload '%s' failed: %v", header.Filename, err)
		// Rows committed before the interruption stay committed; report them.
		writeJSON(w, http.StatusInternalServerError, importErrorResponse{Error: err.Error(), Report: rep})
		return
	}
	logging.Logf(logging.Info, "%s", rep.Summary())
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleActionCounts(w http.ResponseWriter, r *http.Request) {
	f := filterFrom(r)
	f.Action = strings.TrimSpace(r.URL.Query().Get("action"))

	stats, err := s.queries.ActionCounts(r.Context(), f)
	if err != nil {
		s.storeError(w, "action counts", err)
		return
	}

	resp := statsResponse{Customers: stats.Customers, Contacts: stats.Contacts}
	for _, key := range schema.ActionKeys() {
		resp.Actions = append(resp.Actions, actionCount{Key: key, Label: schema.ActionLabel(key), Count: stats.Actions[key]})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	f := filterFrom(r)
	f.Action = strings.TrimSpace(r.URL.Query().Get("action"))

	contacts, err := s.queries.Contacts(r.Context(), f)
	if err != nil {
		s.storeError(w, "contacts", err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := s.queries.Countries(r.Context())
	if err != nil {
		s.storeError(w, "countries", err)
		return
	}
	writeJSON(w, http.StatusOK, countries)
}

func (s *Server) handleActionEmails(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !schema.IsActionKey(key) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action '%s'", key))
		return
	}

	emails, err := s.queries.ActionEmails(r.Context(), key, filterFrom(r))
	if err != nil {
		s.storeError(w, "action emails", err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Join(emails, "\n")))
		return
	}
	writeJSON(w, http.StatusOK, emailsResponse{
		Action: key,
		Label:  schema.ActionLabel(key),
		Count:  len(emails),
		Emails: emails,
	})
}

func (s *Server) handleSetFlag(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}
	key := chi.URLParam(r, "key")
	if !schema.IsActionKey(key) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action '%s'", key))
		return
	}

	var req flagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, `body must be {"value": true|false}`)
		return
	}

	if err := s.queries.SetFlag(r.Context(), id, key, *req.Value); err != nil {
		s.storeError(w, "set flag", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contact_id": id, "action": key, "value": *req.Value})
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrUnknownAction), errors.Is(err, store.ErrContactNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logging.Logf(logging.Error, "%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func filterFrom(r *http.Request) store.Filter {
	q := r.URL.Query()
	return store.Filter{
		Query:   strings.TrimSpace(q.Get("q")),
		Country: strings.TrimSpace(q.Get("country")),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Logf(logging.Warning, "Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
