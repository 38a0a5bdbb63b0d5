// Package api exposes the query engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"example.com/touchpoints/internal/domain"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	store   Pinger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, store Pinger) *Handler {
	return &Handler{service: service, store: store}
}

// RegisterRoutes wires endpoints to the mux. Each API path is served with and
// without its trailing slash.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", index)
	for path, fn := range map[string]http.HandlerFunc{
		"/api/events/random": h.randomEvents,
		"/api/people/random": h.randomPersons,
		"/api/events":        h.listEvents,
		"/api/timeline":      h.timeline,
	} {
		mux.HandleFunc("GET "+path, fn)
		mux.HandleFunc("GET "+path+"/{$}", fn)
	}
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
}

func index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Hello, world! This is the API root."))
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "store unreachable")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *Handler) randomEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := h.service.SampleEvents(r.Context(), q.Get("customer_org_id"), q.Get("account_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]EventRecordView, 0, len(events))
	for _, ev := range events {
		views = append(views, toEventRecordView(ev))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) randomPersons(w http.ResponseWriter, r *http.Request) {
	persons, err := h.service.SamplePersons(r.Context(), r.URL.Query().Get("customer_org_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]PersonView, 0, len(persons))
	for _, p := range persons {
		views = append(views, toPersonView(p))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.service.ListEvents(r.Context(), domain.ListEventsInput{
		OrgID:      q.Get("customer_org_id"),
		AccountID:  q.Get("account_id"),
		Page:       intParam(q.Get("page"), 1),
		PageSize:   intParam(q.Get("page_size"), domain.DefaultPageSize),
		TargetDate: q.Get("date"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventPageResponse(page))
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tl, err := h.service.Timeline(r.Context(), q.Get("customer_org_id"), q.Get("account_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineResponse(tl))
}

// intParam parses an optional integer query parameter, falling back on
// absent or malformed input.
func intParam(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrBadRequest) {
		writeError(w, http.StatusBadRequest, domain.ErrorKind(err), err.Error())
		return
	}
	log.Printf("query failed: %v", err)
	writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Type: code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}
