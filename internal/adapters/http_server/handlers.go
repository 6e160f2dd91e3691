package httpserver

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"estate_reviews/internal/app"
	"estate_reviews/internal/domain"
)

type Handlers struct {
	Q        *app.QueryService
	Sessions *app.SessionManager
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/v1/agents/{id}/reviews", h.listReviews)
	s.mux.Post("/v1/agents/{id}/reviews", h.addReview)
	s.mux.Patch("/v1/agents/{id}/reviews/{reviewID}", h.editReview)
	s.mux.Put("/v1/agents/{id}/reviews/{reviewID}", h.editReview)
	s.mux.Delete("/v1/agents/{id}/reviews/{reviewID}", h.deleteReview)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil
}

// mutationProblem maps controller errors onto problem responses. Rollback has
// already happened by the time any of these reach the handler.
func mutationProblem(w http.ResponseWriter, err error) {
	var me *domain.MutationError
	switch {
	case errors.Is(err, domain.ErrInvalidRating):
		writeProblem(w, http.StatusBadRequest, "Invalid rating", "rating must be greater than 0 and at most 5")
	case errors.Is(err, domain.ErrMutationInFlight):
		writeProblem(w, http.StatusConflict, "Mutation in flight", "another change to this review is still pending")
	case errors.Is(err, domain.ErrUnknownReview):
		writeProblem(w, http.StatusNotFound, "Not Found", "review not found")
	case errors.Is(err, domain.ErrSessionClosed):
		writeProblem(w, http.StatusServiceUnavailable, "Shutting down", "review session is closed")
	case errors.As(err, &me):
		writeProblem(w, http.StatusBadGateway, "Backend rejected mutation", me.Error())
	default:
		writeProblem(w, http.StatusBadGateway, "Upstream error", err.Error())
	}
}

func (h *Handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "agent id must be a number")
		return
	}
	sortKey := r.URL.Query().Get("sort")
	switch sortKey {
	case "", "-created_at", "created_at", "-rating", "rating":
	default:
		writeProblem(w, http.StatusBadRequest, "Invalid sort", "sort must be one of -created_at, created_at, -rating, rating")
		return
	}

	snap, err := h.Q.AgentReviews(r.Context(), id, domain.ListQuery{Sort: sortKey})
	if err != nil {
		writeProblem(w, http.StatusBadGateway, "Upstream error", "could not fetch reviews")
		return
	}

	etag, body := calcETagAndBody(snap)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write listReviews body")
	}
}

type reviewBody struct {
	UserID   int64   `json:"user_id"`
	UserName string  `json:"user_name"`
	Rating   float64 `json:"rating"`
	Comment  string  `json:"comment"`
}

func (h *Handlers) addReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "agent id must be a number")
		return
	}
	var body reviewBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", "request body must be JSON")
		return
	}

	sess := h.Sessions.Get(id)
	created, err := sess.Add(r.Context(), body.UserID, body.UserName, body.Rating, body.Comment)
	if err != nil {
		mutationProblem(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) editReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "agent id must be a number")
		return
	}
	reviewID, ok := pathID(r, "reviewID")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "review id must be a number")
		return
	}
	var body reviewBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", "request body must be JSON")
		return
	}

	sess := h.Sessions.Get(id)
	if err := sess.EnsureSeeded(r.Context()); err != nil {
		writeProblem(w, http.StatusBadGateway, "Upstream error", "could not fetch reviews")
		return
	}
	if err := sess.Edit(r.Context(), reviewID, body.Rating, body.Comment); err != nil {
		mutationProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *Handlers) deleteReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "agent id must be a number")
		return
	}
	reviewID, ok := pathID(r, "reviewID")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "review id must be a number")
		return
	}

	sess := h.Sessions.Get(id)
	if err := sess.EnsureSeeded(r.Context()); err != nil {
		writeProblem(w, http.StatusBadGateway, "Upstream error", "could not fetch reviews")
		return
	}
	if err := sess.Delete(r.Context(), reviewID); err != nil {
		mutationProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}
