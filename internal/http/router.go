package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsehq/pulse/internal/broadcast"
	"github.com/pulsehq/pulse/internal/domain"
	"github.com/pulsehq/pulse/internal/repository"
	"github.com/pulsehq/pulse/internal/service/ingest"
	"github.com/pulsehq/pulse/internal/ws"
)

const (
	collectTimeout   = 2 * time.Second
	sseHeartbeat     = 25 * time.Second
	defaultEventPage = 50
	maxEventPage     = 500
)

// Router wires analytics ingestion and realtime dashboard endpoints onto a
// ServeMux.
type Router struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	ingest      *ingest.Service
	events      repository.EventRepository
	collector   broadcast.Collector
	broadcaster *broadcast.Broadcaster
	verifier    IdentityVerifier
	limiter     RateLimiter
	dbHealth    func(ctx context.Context) error
	upgrader    websocket.Upgrader

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

// NewRouter constructs the router and registers all routes.
func NewRouter(
	logger *slog.Logger,
	ingestSvc *ingest.Service,
	events repository.EventRepository,
	collector broadcast.Collector,
	broadcaster *broadcast.Broadcaster,
	verifier IdentityVerifier,
	limiter RateLimiter,
	dbHealth func(ctx context.Context) error,
) *Router {
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		ingest:      ingestSvc,
		events:      events,
		collector:   collector,
		broadcaster: broadcaster,
		verifier:    verifier,
		limiter:     limiter,
		dbHealth:    dbHealth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	r.initMetrics()
	r.routes()
	return r
}

// Handler returns the root HTTP handler.
func (r *Router) Handler() http.Handler {
	return r.mux
}

func (r *Router) routes() {
	minute := time.Minute

	r.mux.HandleFunc("POST /analytics/events",
		r.audit(r.withRateLimit("track", 240, minute, rateLimitKeyIP, r.handleTrack)))
	r.mux.HandleFunc("POST /analytics/events/batch",
		r.audit(r.withRateLimit("track_batch", 60, minute, rateLimitKeyIP, r.handleTrackBatch)))
	r.mux.HandleFunc("POST /analytics/sessions",
		r.audit(r.withRateLimit("session_start", 120, minute, rateLimitKeyIP, r.handleSessionStart)))
	r.mux.HandleFunc("POST /analytics/sessions/end",
		r.audit(r.withRateLimit("session_end", 120, minute, rateLimitKeyIP, r.handleSessionEnd)))

	r.mux.HandleFunc("GET /analytics/metrics",
		r.audit(r.requireAuth(r.withRateLimit("metrics_read", 120, minute, rateLimitKeyUser, r.handleMetrics))))
	r.mux.HandleFunc("GET /analytics/events",
		r.audit(r.requireAuth(r.withRateLimit("events_read", 120, minute, rateLimitKeyUser, r.handleRecentEvents))))
	r.mux.HandleFunc("GET /analytics/events/history",
		r.audit(r.requireAuth(r.withRateLimit("events_history", 60, minute, rateLimitKeyUser, r.handleEventHistory))))
	r.mux.HandleFunc("GET /analytics/alerts",
		r.audit(r.requireAuth(r.withRateLimit("alerts_read", 120, minute, rateLimitKeyUser, r.handleRecentAlerts))))

	r.mux.HandleFunc("GET /ws/dashboard", r.audit(r.handleDashboardWS))
	r.mux.HandleFunc("GET /sse/dashboard", r.audit(r.handleDashboardSSE))

	r.mux.HandleFunc("GET /healthz", r.handleHealth)
	r.mux.Handle("GET /metrics", promhttp.Handler())
}

// audit logs every request with latency and resolved status, and feeds the
// prometheus request metrics.
func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK, ctx: req.Context()}
		next(recorder, req)
		duration := time.Since(start)

		attrs := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", recorder.status,
			"duration_ms", duration.Milliseconds(),
			"ip", clientIP(req),
		}
		if info, ok := authInfoFromContext(recorder.ctx); ok {
			attrs = append(attrs, "user_id", info.UserID)
		}
		if recorder.status >= 500 {
			r.logger.Error("request failed", attrs...)
		} else {
			r.logger.Info("request handled", attrs...)
		}
		r.recordRequestMetrics(req.Method, req.URL.Path, recorder.status, duration)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

// Flush lets SSE handlers stream through the recorder.
func (sr *statusRecorder) Flush() {
	if flusher, ok := sr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	sr.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *Router) handleTrack(w http.ResponseWriter, req *http.Request) {
	var input ingest.TrackInput
	if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	event, err := r.ingest.Track(req.Context(), input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"id":     event.ID,
	})
}

func (r *Router) handleTrackBatch(w http.ResponseWriter, req *http.Request) {
	var input struct {
		Events []ingest.TrackInput `json:"events"`
	}
	if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(input.Events) == 0 {
		writeError(w, http.StatusBadRequest, "events must not be empty")
		return
	}
	result := r.ingest.TrackBatch(req.Context(), input.Events)
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleSessionStart(w http.ResponseWriter, req *http.Request) {
	var input ingest.StartSessionInput
	if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := r.ingest.StartSession(req.Context(), input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        session.ID,
		"sessionId": session.SessionID,
		"startedAt": session.StartedAt.UnixMilli(),
	})
}

func (r *Router) handleSessionEnd(w http.ResponseWriter, req *http.Request) {
	var input struct {
		SessionID string `json:"sessionId"`
		ExitPage  string `json:"exitPage"`
	}
	if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := r.ingest.EndSession(req.Context(), input.SessionID, input.ExitPage)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	response := map[string]any{"sessionId": session.SessionID}
	if session.DurationMS != nil {
		response["duration"] = *session.DurationMS
	}
	writeJSON(w, http.StatusOK, response)
}

// handleMetrics serves the polling fallback. The snapshot is computed on
// demand; collection failures still return the flagged zeroed snapshot so
// pollers always have something to render.
func (r *Router) handleMetrics(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), collectTimeout)
	defer cancel()
	snapshot, err := r.collector.Collect(ctx)
	if err != nil {
		r.logger.Warn("on-demand snapshot collection failed", "error", err)
	}
	writeJSON(w, http.StatusOK, broadcast.MetricsPayload(snapshot))
}

func (r *Router) handleRecentEvents(w http.ResponseWriter, req *http.Request) {
	limit := defaultEventPage
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > maxEventPage {
			parsed = maxEventPage
		}
		limit = parsed
	}
	events := r.broadcaster.RecentEvents(limit)
	payloads := make([]map[string]any, 0, len(events))
	for _, event := range events {
		payloads = append(payloads, broadcast.EventPayload(event))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": payloads})
}

// handleEventHistory pages through persisted events, unlike the in-memory
// recent feed which only covers the live buffer.
func (r *Router) handleEventHistory(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	eventType := query.Get("type")
	limit := defaultEventPage
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > maxEventPage {
			parsed = maxEventPage
		}
		limit = parsed
	}
	offset := 0
	if raw := query.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = parsed
	}
	events, err := r.events.ListEvents(req.Context(), eventType, limit, offset)
	if err != nil {
		r.logger.Error("event history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load event history")
		return
	}
	payloads := make([]map[string]any, 0, len(events))
	for _, event := range events {
		payloads = append(payloads, broadcast.EventPayload(event))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": payloads})
}

// handleRecentAlerts returns the active alert list, optionally filtered to a
// minimum severity.
func (r *Router) handleRecentAlerts(w http.ResponseWriter, req *http.Request) {
	minSeverity := domain.SeverityInfo
	if raw := req.URL.Query().Get("severity"); raw != "" {
		switch s := domain.Severity(raw); s {
		case domain.SeverityInfo, domain.SeverityWarning, domain.SeverityCritical:
			minSeverity = s
		default:
			writeError(w, http.StatusBadRequest, "severity must be info, warning, or critical")
			return
		}
	}
	alerts := r.broadcaster.RecentAlerts(0)
	payloads := make([]map[string]any, 0, len(alerts))
	for _, alert := range alerts {
		if alert.Severity.Rank() < minSeverity.Rank() {
			continue
		}
		payloads = append(payloads, broadcast.AlertPayload(alert))
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": payloads})
}

// handleDashboardWS upgrades to a websocket and registers the connection with
// the broadcaster. The read loop exists only to detect disconnects; inbound
// frames are discarded.
func (r *Router) handleDashboardWS(w http.ResponseWriter, req *http.Request) {
	_, info, ok := r.ensureAuth(w, req)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err, "ip", clientIP(req))
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.broadcaster.Register(client)
	r.logger.Info("dashboard connected", "transport", "websocket", "user_id", info.UserID)

	go func() {
		defer func() {
			r.broadcaster.Unregister(client)
			client.Close()
			r.logger.Info("dashboard disconnected", "transport", "websocket", "user_id", info.UserID)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// handleDashboardSSE streams broadcaster traffic as Server-Sent Events for
// clients behind websocket-hostile proxies.
func (r *Router) handleDashboardSSE(w http.ResponseWriter, req *http.Request) {
	_, info, ok := r.ensureAuth(w, req)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.broadcaster.Register(client)
	r.logger.Info("dashboard connected", "transport", "sse", "user_id", info.UserID)
	defer func() {
		r.broadcaster.Unregister(client)
		client.Close()
		r.logger.Info("dashboard disconnected", "transport", "sse", "user_id", info.UserID)
	}()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			// Busy streams keep the connection alive on their own; only
			// ping when the stream has gone quiet.
			if time.Since(client.LastActivity()) < sseHeartbeat {
				continue
			}
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	status := "ok"
	code := http.StatusOK
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			r.logger.Warn("database health check failed", "error", err)
		}
	}
	writeJSON(w, code, map[string]any{
		"status":      status,
		"subscribers": r.broadcaster.SubscriberCount(),
	})
}
