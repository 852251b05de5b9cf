package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ddnsd/common"
	"ddnsd/ddns"
	"ddnsd/detector"
	"ddnsd/log"
	"ddnsd/metrics"
	"ddnsd/scheduler"
	"ddnsd/store"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
	Reload(ctx context.Context) error
	Status() scheduler.Status
	ForceUpdate(ctx context.Context, id string) (string, error)
}

type Detector interface {
	Detect(ctx context.Context, family common.Family) (detector.Snapshot, error)
	DetectAll(ctx context.Context) (detector.Snapshot, error)
	ClearCache()
}

type History interface {
	History(ctx context.Context, domainID string, limit int) ([]store.HistoryEntry, error)
}

type Server struct {
	logger    *zap.Logger
	scheduler Scheduler
	detector  Detector
	history   History
	reload    func(ctx context.Context) error
}

type Option func(*Server)

// WithReload replaces the default reload, which only restarts the
// scheduler.
func WithReload(fn func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.reload = fn
	}
}

func New(ctx context.Context, sch Scheduler, det Detector, h History, opts ...Option) *Server {
	s := &Server{
		logger:    log.L(log.With(ctx, log.Stage("api"))),
		scheduler: sch,
		detector:  det,
		history:   h,
		reload:    sch.Reload,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type handlerFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request) (any, error)

func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.IncrementReqs(r)
		ctx := log.SWith(log.WithLogger(r.Context(), s.logger), "method", r.Method, "path", r.URL.Path)

		v, err := h(ctx, w, r)
		if err != nil {
			code := statusOf(err)
			log.S(ctx).Warnw("request failed", "code", code, log.Elapsed("elapsed", start), zap.Error(err))
			writeJSON(ctx, w, code, map[string]string{"error": err.Error()})
			return
		}

		log.S(ctx).Debugw("request served", log.Elapsed("elapsed", start))
		writeJSON(ctx, w, http.StatusOK, v)
	}
}

type badRequest struct{ error }

func statusOf(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, detector.ErrDetectionExhausted):
		return http.StatusServiceUnavailable
	case ddns.KindOf(err) != ddns.Unknown, errors.Is(err, ddns.ErrUnknownProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.S(ctx).Warnw("failed writing response", zap.Error(err))
	}
}

// Control serves the /v1 control endpoints.
func (s *Server) Control() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", s.wrap(s.status))
	mux.HandleFunc("POST /v1/start", s.wrap(s.start))
	mux.HandleFunc("POST /v1/stop", s.wrap(s.stop))
	mux.HandleFunc("POST /v1/reload", s.wrap(s.doReload))
	mux.HandleFunc("POST /v1/domains/{id}/update", s.wrap(s.forceUpdate))
	mux.HandleFunc("GET /v1/domains/{id}/history", s.wrap(s.domainHistory))
	mux.HandleFunc("GET /v1/ip", s.wrap(s.ip))
	mux.HandleFunc("POST /v1/ip/clear", s.wrap(s.clearCache))
	mux.HandleFunc("GET /v1/providers", s.wrap(s.providers))
	return mux
}

func (s *Server) status(context.Context, http.ResponseWriter, *http.Request) (any, error) {
	return s.scheduler.Status(), nil
}

func (s *Server) start(ctx context.Context, _ http.ResponseWriter, _ *http.Request) (any, error) {
	if err := s.scheduler.Start(ctx); err != nil {
		return nil, err
	}
	return s.scheduler.Status(), nil
}

func (s *Server) stop(context.Context, http.ResponseWriter, *http.Request) (any, error) {
	s.scheduler.Stop()
	return s.scheduler.Status(), nil
}

func (s *Server) doReload(ctx context.Context, _ http.ResponseWriter, _ *http.Request) (any, error) {
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s.scheduler.Status(), nil
}

func (s *Server) forceUpdate(ctx context.Context, _ http.ResponseWriter, r *http.Request) (any, error) {
	msg, err := s.scheduler.ForceUpdate(ctx, r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	return map[string]string{"message": msg}, nil
}

func (s *Server) domainHistory(ctx context.Context, _ http.ResponseWriter, r *http.Request) (any, error) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, badRequest{errors.New("limit must be a non-negative integer")}
		}
		limit = n
	}

	entries, err := s.history.History(ctx, r.PathValue("id"), limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []store.HistoryEntry{}
	}
	return entries, nil
}

func (s *Server) ip(ctx context.Context, _ http.ResponseWriter, r *http.Request) (any, error) {
	v := r.URL.Query().Get("family")
	if v == "" || v == "all" {
		return s.detector.DetectAll(ctx)
	}

	var family common.Family
	if err := family.UnmarshalText([]byte(v)); err != nil {
		return nil, badRequest{err}
	}
	return s.detector.Detect(ctx, family)
}

func (s *Server) clearCache(context.Context, http.ResponseWriter, *http.Request) (any, error) {
	s.detector.ClearCache()
	return map[string]string{"message": "cache cleared"}, nil
}

func (s *Server) providers(context.Context, http.ResponseWriter, *http.Request) (any, error) {
	return ddns.Describe(), nil
}

// Health serves liveness, readiness and Prometheus metrics.
func Health(ready func() bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health/alive", func(w http.ResponseWriter, r *http.Request) {
		metrics.IncrementReqs(r)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		metrics.IncrementReqs(r)
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
