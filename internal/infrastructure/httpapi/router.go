// Package httpapi exposes pass history, on-demand passes and metrics over
// HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fleetshift/apigw-reconciler/internal/application"
	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

// InputSource looks up the declared request for an (API, stage) pair.
type InputSource interface {
	Input(apiID, stageName string) (domain.ReconcileInput, error)
}

// Server holds what the handlers need. Metrics is optional.
type Server struct {
	Service *application.ReconcileService
	Inputs  InputSource
	Metrics http.Handler
}

// NewRouter wires the routes:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /v1/passes
//	GET  /v1/stages/{apiID}/{stage}/passes
//	GET  /v1/stages/{apiID}/{stage}/plan
//	POST /v1/stages/{apiID}/{stage}/reconcile
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/passes", s.listPasses)
		r.Route("/stages/{apiID}/{stage}", func(r chi.Router) {
			r.Get("/passes", s.stagePasses)
			r.Get("/plan", s.plan)
			r.Post("/reconcile", s.reconcile)
		})
	})
	return r
}

func (s *Server) listPasses(w http.ResponseWriter, r *http.Request) {
	if s.Service.Records == nil {
		writeJSON(w, http.StatusOK, []domain.PassRecord{})
		return
	}
	recs, err := s.Service.Records.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

func (s *Server) stagePasses(w http.ResponseWriter, r *http.Request) {
	recs, err := s.Service.History(r.Context(), chi.URLParam(r, "apiID"), chi.URLParam(r, "stage"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

func (s *Server) plan(w http.ResponseWriter, r *http.Request) {
	in, err := s.Inputs.Input(chi.URLParam(r, "apiID"), chi.URLParam(r, "stage"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	plan, err := s.Service.Plan(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	in, err := s.Inputs.Input(chi.URLParam(r, "apiID"), chi.URLParam(r, "stage"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.Service.Reconcile(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.G(r.Context()).WithError(err).Error("request failed")
	}
	writeJSON(w, status, errorBody{
		Error:     err.Error(),
		Retryable: domain.IsRetryable(err),
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func statusOf(err error) int {
	switch {
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsConflict(err), errdefs.IsAlreadyExists(err):
		return http.StatusConflict
	case errdefs.IsFailedPrecondition(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(recs []domain.PassRecord) []domain.PassRecord {
	if recs == nil {
		return []domain.PassRecord{}
	}
	return recs
}
