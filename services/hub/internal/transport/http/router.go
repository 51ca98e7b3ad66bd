package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ids/internal/httpx"
	"ids/internal/jwtsigner"
	"ids/services/hub/internal/dto"
	"ids/services/hub/internal/observability/metrics"
	"ids/services/hub/internal/observability/middleware"
	"ids/services/hub/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	HeaderDeviceID     = "X-Device-ID"
	HeaderInternalAuth = "X-Internal-Auth"
)

type Options struct {
	// Signer guards /admin. When nil the operator API is not mounted.
	Signer         *jwtsigner.Signer
	CORSOrigins    []string
	RegisterRate   int
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

func NewRouter(svc *service.Service, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.WithRequestAndTrace)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(opts.RequestTimeout))
	r.Use(middleware.WithMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", readyHandler(svc))
	r.Handle("/metrics", promhttp.Handler())

	h := &handlers{svc: svc, maxBody: opts.MaxBodyBytes}

	r.Group(func(r chi.Router) {
		if opts.RegisterRate > 0 {
			r.Use(httprate.LimitByIP(opts.RegisterRate, time.Minute))
		}
		r.Post("/devices", h.registerDevice)
	})
	r.Post("/events", h.ingestEvent)

	if opts.Signer != nil {
		r.Get("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"keys": []any{opts.Signer.PublicJWK()}})
		})
		r.Route("/admin", func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: originsIfSet(opts.CORSOrigins),
				AllowedMethods: []string{"GET", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
				MaxAge:         300,
			}))
			r.Use(opts.Signer.Middleware(jwtsigner.ScopeAdmin))
			r.Get("/devices", h.listDevices)
			r.Delete("/devices/{deviceID}", h.deleteDevice)
			r.Get("/devices/{deviceID}/events", h.deviceEvents)
			r.Get("/events/search", h.searchEvents)
		})
	}

	return r
}

type handlers struct {
	svc     *service.Service
	maxBody int64
}

func (h *handlers) registerDevice(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	traceID := middleware.TraceIDFromContext(r.Context())

	if err := h.svc.AuthorizeRegistration(r.Header.Get(HeaderInternalAuth)); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		metrics.DeviceRegistrationsTotal.WithLabelValues("failure").Inc()
		slog.Warn("device registration unauthorized", "remote_ip", httpx.ClientIP(r), "request_id", reqID, "trace_id", traceID)
		return
	}

	var req dto.RegisterDeviceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		metrics.DeviceRegistrationsTotal.WithLabelValues("failure").Inc()
		slog.Warn("device registration decode failed", "error", err, "request_id", reqID, "trace_id", traceID)
		return
	}

	res, created, err := h.svc.RegisterDevice(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "registration failed"
		if errors.Is(err, service.ErrInvalidRequest) {
			status = http.StatusBadRequest
			msg = "missing device_id"
		}
		writeError(w, status, msg)
		metrics.DeviceRegistrationsTotal.WithLabelValues("failure").Inc()
		slog.Warn("device registration failed", "error", err, "request_id", reqID, "trace_id", traceID)
		return
	}

	status := http.StatusOK
	result := "existing"
	if created {
		status = http.StatusCreated
		result = "created"
	}
	metrics.DeviceRegistrationsTotal.WithLabelValues(result).Inc()
	slog.Info("device registered", "device_id", res.DeviceID, "name", res.Name, "created", created, "remote_ip", httpx.ClientIP(r), "request_id", reqID, "trace_id", traceID)
	writeJSON(w, status, res)
}

func (h *handlers) ingestEvent(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())
	traceID := middleware.TraceIDFromContext(r.Context())
	deviceID := r.Header.Get(HeaderDeviceID)
	if deviceID == "" {
		status, msg := ingestStatus(service.ErrMissingDeviceID)
		writeError(w, status, msg)
		metrics.EventsIngestedTotal.WithLabelValues("unknown", "failure").Inc()
		slog.Warn("event rejected", "status", status, "error", service.ErrMissingDeviceID, "remote_ip", httpx.ClientIP(r), "request_id", reqID, "trace_id", traceID)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		} else {
			writeError(w, http.StatusBadRequest, "unreadable body")
		}
		metrics.EventsIngestedTotal.WithLabelValues("unknown", "failure").Inc()
		slog.Warn("event body read failed", "device_id", deviceID, "error", err, "request_id", reqID, "trace_id", traceID)
		return
	}

	ev, err := h.svc.IngestEvent(r.Context(), deviceID, string(body))
	if err != nil {
		status, msg := ingestStatus(err)
		writeError(w, status, msg)
		metrics.EventsIngestedTotal.WithLabelValues("unknown", "failure").Inc()
		slog.Warn("event rejected", "device_id", deviceID, "status", status, "error", err, "remote_ip", httpx.ClientIP(r), "request_id", reqID, "trace_id", traceID)
		return
	}

	metrics.EventsIngestedTotal.WithLabelValues(string(ev.Kind), "success").Inc()
	slog.Info("event ingested", "device_id", ev.DeviceID, "event_id", ev.ID, "kind", ev.Kind, "request_id", reqID, "trace_id", traceID)
	writeJSON(w, http.StatusCreated, dto.IngestResponse{Status: "success", ID: ev.ID})
}

func ingestStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrMissingDeviceID):
		return http.StatusBadRequest, "missing X-Device-ID header"
	case errors.Is(err, service.ErrEmptyPayload):
		return http.StatusBadRequest, "empty payload"
	case errors.Is(err, service.ErrUnknownDevice):
		return http.StatusUnauthorized, "unknown device"
	case errors.Is(err, service.ErrDecryption):
		return http.StatusBadRequest, "decryption failed"
	case errors.Is(err, service.ErrInvalidKind):
		return http.StatusBadRequest, "invalid kind"
	case errors.Is(err, service.ErrInvalidEvent):
		return http.StatusBadRequest, "invalid event"
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "event store unavailable"
	}
	return http.StatusInternalServerError, "internal error"
}

func (h *handlers) listDevices(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListDevices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list devices failed")
		slog.Error("list devices failed", "error", err, "request_id", middleware.RequestIDFromContext(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) deleteDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	operator, _ := jwtsigner.SubjectFrom(r.Context())
	if err := h.svc.DeleteDevice(r.Context(), deviceID); err != nil {
		if errors.Is(err, service.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete failed")
		slog.Error("delete device failed", "device_id", deviceID, "error", err)
		return
	}
	slog.Info("device deleted", "device_id", deviceID, "operator", operator, "request_id", middleware.RequestIDFromContext(r.Context()))
	if purge, _ := strconv.ParseBool(r.URL.Query().Get("purge")); !purge {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	n, err := h.svc.PurgeDeviceEvents(r.Context(), deviceID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "device deleted, event purge failed")
		slog.Error("purge device events failed", "device_id", deviceID, "error", err)
		return
	}
	slog.Info("device events purged", "device_id", deviceID, "count", n, "operator", operator)
	writeJSON(w, http.StatusOK, dto.DeleteDeviceResponse{DeviceID: deviceID, PurgedEvents: n})
}

func (h *handlers) deviceEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.query(w, r, service.EventQuery{
		DeviceID: chi.URLParam(r, "deviceID"),
		Kind:     firstNonEmpty(q.Get("kind"), q.Get("type")),
		Limit:    atoi(q.Get("limit")),
	}, h.svc.DeviceEvents)
}

func (h *handlers) searchEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.query(w, r, service.EventQuery{
		DeviceID: q.Get("device_id"),
		Kind:     firstNonEmpty(q.Get("kind"), q.Get("type")),
		Text:     q.Get("q"),
		Limit:    atoi(q.Get("limit")),
	}, h.svc.SearchEvents)
}

func (h *handlers) query(w http.ResponseWriter, r *http.Request, q service.EventQuery, run func(context.Context, service.EventQuery) (dto.EventList, error)) {
	res, err := run(r.Context(), q)
	if err != nil {
		metrics.EventQueriesTotal.WithLabelValues("failure").Inc()
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrDeviceNotFound):
			writeError(w, http.StatusNotFound, "device not found")
		case errors.Is(err, service.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "event store unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "query failed")
		}
		slog.Warn("event query failed", "error", err, "request_id", middleware.RequestIDFromContext(r.Context()))
		return
	}
	metrics.EventQueriesTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, res)
}

func readyHandler(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		checks := map[string]string{}
		for name, err := range svc.Health(r.Context()) {
			if err != nil {
				status = http.StatusServiceUnavailable
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}
		writeJSON(w, status, checks)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, dto.ErrorResponse{Error: msg})
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func originsIfSet(in []string) []string {
	if len(in) == 0 {
		return []string{"*"}
	}
	return in
}
