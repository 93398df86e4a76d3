// Package http exposes the weather service over HTTP: the /weather lookup, health,
// cache statistics and clearing, and Prometheus metrics, with JSON error bodies throughout.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather-service/internal/lifecycle"
	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
	"github.com/kjstillabower/city-weather-service/internal/service"
	"github.com/kjstillabower/city-weather-service/internal/validation"
)

// DefaultMaxCityLength bounds the city query parameter in runes.
const DefaultMaxCityLength = 64

// Options configures a Handler. The zero value is usable.
type Options struct {
	MaxCityLength int
	// CachePing, when set, is reported under checks.cache on /health. Used with memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService *service.WeatherService
	logger         *zap.Logger
	maxCityLength  int
	cachePing      func() error

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(weatherService *service.WeatherService, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxCityLength <= 0 {
		opts.MaxCityLength = DefaultMaxCityLength
	}
	return &Handler{
		weatherService: weatherService,
		logger:         logger,
		maxCityLength:  opts.MaxCityLength,
		cachePing:      opts.CachePing,
	}
}

// RouterConfig holds the per-route middleware settings of NewRouter.
type RouterConfig struct {
	// Limiter guards /weather; nil disables rate limiting.
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
}

// NewRouter registers every route and wraps the router in the global middleware, so
// 404 and 405 responses also carry correlation IDs, CORS headers and metrics.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(NotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(MethodNotAllowed)

	router.Handle("/weather", chain(http.HandlerFunc(h.GetWeather),
		RateLimitMiddleware(cfg.Limiter),
		TimeoutMiddleware(cfg.RequestTimeout),
	)).Methods(http.MethodGet)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.HandleFunc("/cache/stats", h.GetCacheStats).Methods(http.MethodGet)
	router.HandleFunc("/cache", h.ClearCache).Methods(http.MethodDelete)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	return chain(router,
		CorrelationIDMiddleware(h.logger),
		MetricsMiddleware,
		RecoverMiddleware,
		CORSMiddleware,
	)
}

// GetWeather handles GET /weather?city=<name>&lang=zh|en.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	city, err := validation.ValidateCity(q.Get("city"), h.maxCityLength)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lang, err := validation.ValidateLanguage(q.Get("lang"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.weatherService.GetWeather(r.Context(), city, lang)
	if err != nil {
		logger := requestLogger(r)
		if errors.Is(err, models.ErrInvariantViolation) {
			logger.Error("weather report invariant violated", zap.String("city", city), zap.Error(err))
		} else {
			logger.Error("weather lookup failed", zap.String("city", city), zap.Error(err))
		}
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// healthResponse extends HealthInfo with process-level fields.
type healthResponse struct {
	models.HealthInfo
	Phase     string            `json:"phase"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// GetHealth handles GET /health. Returns 503 while shutting down or when the
// service cannot report its state; a degraded service still answers 200.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	statusCode := http.StatusOK
	info, err := h.weatherService.HealthInfo(r.Context())
	if err != nil {
		requestLogger(r).Warn("health info unavailable", zap.Error(err))
		info = models.HealthInfo{Status: service.StatusDegraded, CurrentMode: h.weatherService.CurrentMode()}
		statusCode = http.StatusServiceUnavailable
	}

	checks := map[string]string{}
	if h.cachePing != nil {
		if err := h.cachePing(); err != nil {
			checks["cache"] = "unhealthy"
			info.Status = service.StatusDegraded
		} else {
			checks["cache"] = "healthy"
		}
	}

	phase := lifecycle.CurrentPhase()
	if lifecycle.IsShuttingDown() {
		info.Status = phase.String()
		statusCode = http.StatusServiceUnavailable
	}
	h.logTransition(info.Status)

	writeJSON(w, statusCode, healthResponse{
		HealthInfo: info,
		Phase:      phase.String(),
		Checks:     checks,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) logTransition(status string) {
	h.healthStatusMu.Lock()
	defer h.healthStatusMu.Unlock()
	if h.healthStatusPrev != "" && h.healthStatusPrev != status {
		h.logger.Info("health status transition",
			zap.String("previous_status", h.healthStatusPrev),
			zap.String("current_status", status))
	}
	h.healthStatusPrev = status
}

// ClearCache handles DELETE /cache. Backends that cannot clear answer 501.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.weatherService.ClearCache(r.Context()); err != nil {
		if errors.Is(err, service.ErrClearUnsupported) {
			writeError(w, http.StatusNotImplemented, err.Error())
			return
		}
		requestLogger(r).Error("cache clear failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// GetCacheStats handles GET /cache/stats.
func (h *Handler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.weatherService.CacheStats(r.Context())
	if err != nil {
		requestLogger(r).Warn("cache stats unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "cache stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.CacheStats{"cache_stats": stats})
}

// NotFound is the router's fallback for unknown paths.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Not Found")
}

// MethodNotAllowed answers known paths requested with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard {error_code, message} body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{ErrorCode: status, Message: message})
}
