package boundary

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/systmms/keyrotate/internal/logging"
	"github.com/systmms/keyrotate/internal/secure"
	"github.com/systmms/keyrotate/pkg/rotation"
)

// RequestObserver records one handled request
type RequestObserver interface {
	ObserveRequest(operation string, code int)
}

// ServerConfig holds configuration for the boundary HTTP server
type ServerConfig struct {
	// Listen is the address to listen on
	Listen string

	// RateLimit is the number of requests per second allowed per client IP.
	// Zero disables rate limiting.
	RateLimit float64

	// Burst is the bucket size of the per IP limiter
	Burst int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns the default boundary server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:       ":8080",
		RateLimit:    10,
		Burst:        20,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
}

// credentialRequest is the JSON body of POST /v1/credentials. Payload is
// base64 on the wire.
type credentialRequest struct {
	Operation    string `json:"operation" binding:"required"`
	KeyRef       string `json:"key_ref"`
	Payload      []byte `json:"payload" binding:"required"`
	CredentialID string `json:"credential_id"`
	Force        bool   `json:"force"`
}

type credentialResponse struct {
	Ciphertext []byte `json:"ciphertext"`
}

// Server exposes a Handler over HTTP
type Server struct {
	handler  *Handler
	observer RequestObserver
	logger   *logging.Logger
	server   *http.Server
	limiters *limiterStore
	stop     context.CancelFunc
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithRequestObserver records every credential request (for metrics)
func WithRequestObserver(o RequestObserver) ServerOption {
	return func(s *Server) {
		s.observer = o
	}
}

// NewServer creates the boundary server
func NewServer(cfg ServerConfig, handler *Handler, logger *logging.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultServerConfig().Listen
	}

	s := &Server{handler: handler, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/v1")
	if cfg.RateLimit > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.stop = cancel
		s.limiters = newLimiterStore(cfg.RateLimit, cfg.Burst)
		go s.limiters.cleanupStale(ctx, 5*time.Minute)
		api.Use(s.rateLimit)
	}
	api.POST("/credentials", s.credentials)

	s.server = &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the http.Handler for testing purposes
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("Credential server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("credential server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stop != nil {
		s.stop()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) credentials(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, "", http.StatusBadRequest, "bad_request", err)
		return
	}

	ciphertext, err := s.handler.Handle(c.Request.Context(), Inbound{
		Operation:    req.Operation,
		KeyRef:       req.KeyRef,
		Payload:      req.Payload,
		CredentialID: req.CredentialID,
		Force:        req.Force,
	})
	if err != nil {
		code, kind := statusFor(err)
		s.fail(c, req.Operation, code, kind, err)
		return
	}

	s.observe(req.Operation, http.StatusOK)
	c.JSON(http.StatusOK, credentialResponse{Ciphertext: ciphertext})
}

func (s *Server) fail(c *gin.Context, operation string, code int, kind string, err error) {
	if code >= http.StatusInternalServerError {
		s.logger.Error("%s request failed: %v", operation, err)
	} else {
		s.logger.Warn("%s request rejected: %v", operation, err)
	}
	s.observe(operation, code)
	c.JSON(code, gin.H{"error": kind, "message": err.Error()})
}

func (s *Server) observe(operation string, code int) {
	if s.observer == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	s.observer.ObserveRequest(operation, code)
}

// statusFor maps a handler error to an HTTP status and an error label
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnknownOperation), errors.Is(err, ErrBadRequest), errors.Is(err, ErrBadPayload):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, secure.ErrNoKey):
		return http.StatusBadRequest, "no_key"
	case errors.Is(err, secure.ErrKeyNotAllowed):
		return http.StatusForbidden, "key_not_allowed"
	case errors.Is(err, rotation.ErrAuthorization):
		return http.StatusUnauthorized, rotation.KindName(err)
	case errors.Is(err, rotation.ErrConfiguration):
		return http.StatusUnprocessableEntity, rotation.KindName(err)
	case errors.Is(err, rotation.ErrTransientProvider):
		return http.StatusBadGateway, rotation.KindName(err)
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) rateLimit(c *gin.Context) {
	clientIP := c.ClientIP()
	limiter := s.limiters.get(clientIP)
	if limiter.Allow() {
		c.Next()
		return
	}

	reservation := limiter.Reserve()
	retryAfter := int(reservation.Delay().Seconds())
	reservation.Cancel()
	if retryAfter < 1 {
		retryAfter = 1
	}

	s.logger.Debug("Rate limit exceeded for %s, retry after %ds", clientIP, retryAfter)
	s.observe("rate_limited", http.StatusTooManyRequests)
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":   "rate_limit_exceeded",
		"message": "too many requests from this IP, retry after the given delay",
	})
}

// limiterStore holds one token bucket per client IP
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rps      float64
	burst    int
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newLimiterStore(rps float64, burst int) *limiterStore {
	if burst < 1 {
		burst = 1
	}
	return &limiterStore{limiters: make(map[string]*limiterEntry), rps: rps, burst: burst}
}

func (s *limiterStore) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(s.rps), s.burst)}
		s.limiters[ip] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter
}

func (s *limiterStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// cleanupStale drops limiters not used within the last hour
func (s *limiterStore) cleanupStale(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune(time.Now().Add(-time.Hour))
		}
	}
}

func (s *limiterStore) prune(threshold time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ip, entry := range s.limiters {
		if entry.lastAccess.Before(threshold) {
			delete(s.limiters, ip)
		}
	}
}
