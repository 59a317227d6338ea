package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zoff-tech/order-events/pkg/config"
	"github.com/zoff-tech/order-events/pkg/telemetry"
)

type eventRequest struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

// Handler serves the event submission endpoint.
type Handler struct {
	dispatcher *Dispatcher
	publisher  EventPublisher
	settings   config.GatewaySettings
	log        *zap.SugaredLogger
}

func NewHandler(p EventPublisher, settings config.GatewaySettings, log *zap.SugaredLogger) *Handler {
	return &Handler{
		dispatcher: NewDispatcher(p),
		publisher:  p,
		settings:   settings,
		log:        log,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.recoverMiddleware)
	r.Use(h.loggingMiddleware)

	r.Get("/healthz", h.handleHealth)

	r.Group(func(api chi.Router) {
		api.Use(h.rateLimitMiddleware(h.settings.RateLimitRPS, h.settings.RateLimitBurst))
		api.Post("/api/events", h.handleEvent)
	})

	return r
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, "SubmitEvent")
	defer span.End()

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	span.SetAttributes(attribute.String("event.type", req.EventType))

	err := h.dispatcher.Dispatch(ctx, req.EventType, req.Data)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, ErrInvalidEventType):
		h.log.Infow("rejected event", "event_type", req.EventType, "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid event type")
	case errors.Is(err, ErrInvalidEventData):
		h.log.Infow("rejected event", "event_type", req.EventType, "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid event data")
	case errors.Is(err, ErrPublishFailed):
		span.RecordError(err)
		h.log.Errorw("event not published", "event_type", req.EventType, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to publish event")
	default:
		span.RecordError(err)
		h.log.Errorw("event dispatch failed", "event_type", req.EventType, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"publisher": h.publisher.Status().String(),
	})
}

func (h *Handler) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.log.Errorw("panic while handling request",
					"panic", rec, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
				h.writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Infow("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// rateLimitMiddleware keeps one token bucket per client IP. A non-positive rps
// disables limiting.
func (h *Handler) rateLimitMiddleware(rps, burst int) func(http.Handler) http.Handler {
	limiter := newClientLimiter(rps, burst, limiterIdleTTL)
	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !limiter.allow(ip) {
				h.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const limiterIdleTTL = 3 * time.Minute

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter holds a token bucket per client. Buckets idle for longer than
// idle are dropped by a sweep that runs at most once per idle period.
type clientLimiter struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	idle      time.Duration
	clients   map[string]*clientBucket
	lastSweep time.Time
	now       func() time.Time
}

func newClientLimiter(rps, burst int, idle time.Duration) *clientLimiter {
	return &clientLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		idle:      idle,
		clients:   make(map[string]*clientBucket),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *clientLimiter) allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		for key, b := range l.clients {
			if now.Sub(b.lastSeen) >= l.idle {
				delete(l.clients, key)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[client] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *clientLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
