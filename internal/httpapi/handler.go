// Package httpapi wires the guestbook service to its HTTP surface.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/xid"

	"pkt.systems/guestbookd/api"
	"pkt.systems/guestbookd/internal/guestbook"
	"pkt.systems/guestbookd/internal/svcfields"
	"pkt.systems/guestbookd/internal/telemetry"
	"pkt.systems/pslog"
)

const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "GET,POST,DELETE,OPTIONS"
	corsAllowHeaders = "Content-Type,Authorization"
)

// defaultJSONMaxBytes caps request bodies when the server does not override it.
const defaultJSONMaxBytes = 1 << 20

// Config carries the dependencies and policy knobs for a Handler.
type Config struct {
	Service *guestbook.Service
	Logger  pslog.Logger
	// AdminToken guards destructive operations. Empty disables the check,
	// which is the documented open default for local deployments.
	AdminToken string
	// JSONMaxBytes bounds request body size. Zero selects the default.
	JSONMaxBytes int64
	// Metrics receives request observations when the metrics listener is
	// enabled. Nil disables instrumentation.
	Metrics *telemetry.Metrics
}

// Handler routes HTTP endpoints to guestbook operations.
type Handler struct {
	svc          *guestbook.Service
	logger       pslog.Logger
	adminToken   string
	jsonMaxBytes int64
	metrics      *telemetry.Metrics
}

// NewHandler builds a Handler from cfg.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	maxBytes := cfg.JSONMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultJSONMaxBytes
	}
	return &Handler{
		svc:          cfg.Service,
		logger:       logger,
		adminToken:   cfg.AdminToken,
		jsonMaxBytes: maxBytes,
		metrics:      cfg.Metrics,
	}
}

// Register installs all routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/guestbook", h.cors(h.wrap("guestbook", h.handleGuestbook)))
	mux.Handle("/api/guestbook/import", h.cors(h.wrap("guestbook.import", h.handleImport)))
	mux.Handle("/api/", h.cors(h.wrap("api.fallback", h.handleUnknown)))
	mux.Handle("/healthz", h.wrap("healthz", h.handleHealth))
	mux.Handle("/readyz", h.wrap("readyz", h.handleReady))
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// cors applies the permissive cross-origin policy to API routes and answers
// preflight requests before they reach the wrapped handler.
func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", corsAllowOrigin)
		header.Set("Access-Control-Allow-Methods", corsAllowMethods)
		header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	sys := svcfields.Subsystem("http", operation)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := xid.New().String()
		logger := svcfields.WithSubsystem(h.logger, sys).With(
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx := pslog.ContextWithLogger(r.Context(), logger)
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			h.metrics.ObserveRequest(operation, strconv.Itoa(rec.status), time.Since(start).Seconds())
		}()

		logger.Trace("http.request.start", "remote_addr", r.RemoteAddr)
		if err := fn(rec, r); err != nil {
			logger.Debug("http.request.error", "elapsed", time.Since(start), "error", err)
			h.handleError(ctx, rec, err)
			return
		}
		logger.Trace("http.request.complete", "elapsed", time.Since(start))
	})
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

type httpError struct {
	Status int
	Code   string
	Detail string
}

func (e httpError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = h.logger
	}
	var validation *guestbook.ValidationError
	if errors.As(err, &validation) {
		logger.Debug("http.request.rejected", "status", http.StatusBadRequest, "detail", validation.Detail)
		h.writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: validation.Detail})
		return
	}
	var httpErr httpError
	if errors.As(err, &httpErr) {
		logger.Debug("http.request.failure",
			"status", httpErr.Status,
			"code", httpErr.Code,
			"detail", httpErr.Detail,
		)
		h.writeJSON(w, httpErr.Status, api.ErrorResponse{Error: httpErr.Detail})
		return
	}
	logger.Error("http.request.internal", "error", err)
	h.writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "internal server error"})
}
