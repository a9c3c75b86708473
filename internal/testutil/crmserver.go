package testutil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/crmsync/internal/crm"
	"github.com/roach88/crmsync/internal/model"
)

// CRMServer serves the CRM REST API over HTTP, backed by a FakeCRM.
//
// It lets tests exercise crm.HTTPClient end to end: bearer auth, JSON
// envelopes, search by natural key and status-code classification.
// Errors queued on the FakeCRM are rendered as HTTP statuses: the error's
// StatusCode when it is a *model.Error carrying one, else 503 for
// REMOTE_UNAVAILABLE and 422 for everything else.
type CRMServer struct {
	*FakeCRM
	APIKey string

	srv *httptest.Server
}

// NewCRMServer starts a server requiring apiKey as bearer token.
// Close it when done.
func NewCRMServer(apiKey string) *CRMServer {
	s := &CRMServer{FakeCRM: NewFakeCRM(), APIKey: apiKey}
	s.srv = httptest.NewServer(s.routes())
	return s
}

// URL returns the server's base URL.
func (s *CRMServer) URL() string { return s.srv.URL }

// Close shuts the server down.
func (s *CRMServer) Close() { s.srv.Close() }

func (s *CRMServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.auth)

	for _, t := range []model.EntityType{model.EntityCompany, model.EntityContact} {
		path := crm.ResourcePath(t)
		r.Get(path, s.handleFind(t))
		r.Post(path, s.handleCreate(t))
		r.Patch(path+"/{id}", s.handlePatch(t))
	}
	r.Post("/api-v1-activities", s.handleActivity)
	r.Post("/api-v1-deals", s.handleDeal)
	return r
}

func (s *CRMServer) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *CRMServer) handleFind(t model.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get(crm.SearchParam(t))
		ids, err := s.Find(r.Context(), t, key)
		if err != nil {
			writeError(w, err)
			return
		}
		data := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			data = append(data, map[string]any{"id": id})
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": data})
	}
}

func (s *CRMServer) handleCreate(t model.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var attrs model.Attributes
		if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		id, err := s.Create(r.Context(), t, attrs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"id": id}})
	}
}

func (s *CRMServer) handlePatch(t model.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var attrs model.Attributes
		if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		id := model.RemoteID(chi.URLParam(r, "id"))
		if err := s.Patch(r.Context(), t, id, attrs); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": id}})
	}
}

type activityPayload struct {
	Type      string         `json:"type"`
	ContactID model.RemoteID `json:"contact_id"`
	CompanyID model.RemoteID `json:"company_id"`
	Text      string         `json:"text"`
	Date      string         `json:"date"`
	DueDate   string         `json:"due_date"`
	Priority  string         `json:"priority"`
}

func (s *CRMServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	var p activityPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	var err error
	if p.Type == "task" {
		err = s.CreateTask(r.Context(), crm.Task{
			ContactID: p.ContactID,
			Text:      p.Text,
			DueDate:   p.DueDate,
			Priority:  p.Priority,
		})
	} else {
		a := crm.Activity{
			Type:      model.ActivityKind(p.Type),
			ContactID: p.ContactID,
			CompanyID: p.CompanyID,
			Text:      p.Text,
		}
		if p.Date != "" {
			a.Date, _ = time.Parse(time.RFC3339, p.Date)
		}
		err = s.LogActivity(r.Context(), a)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"id": 1}})
}

type dealPayload struct {
	Name        string           `json:"name"`
	Amount      float64          `json:"amount"`
	Stage       string           `json:"stage"`
	CompanyID   model.RemoteID   `json:"company_id"`
	ContactIDs  []model.RemoteID `json:"contact_ids"`
	Category    string           `json:"category"`
	Description string           `json:"description"`
}

func (s *CRMServer) handleDeal(w http.ResponseWriter, r *http.Request) {
	var p dealPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	id, err := s.CreateDeal(r.Context(), crm.Deal{
		Name:        p.Name,
		CompanyID:   p.CompanyID,
		ContactIDs:  p.ContactIDs,
		Amount:      p.Amount,
		Stage:       p.Stage,
		Category:    p.Category,
		Description: p.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"id": id}})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	var me *model.Error
	if errors.As(err, &me) {
		switch {
		case me.StatusCode != 0:
			status = me.StatusCode
		case me.Code == model.ErrCodeRemoteUnavailable:
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, map[string]string{"message": strings.TrimSpace(err.Error())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
