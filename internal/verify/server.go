package verify

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/payment-verifier/internal/scanning"
)

// Server handles HTTP requests for verification
type Server struct {
	verifier   Verifier
	recognizer scanning.Recognizer
	local      LocalVerifier
	history    HistoryStore
	settings   SettingsStore
	cache      *ttlCache
	limiter    *fixedWindowLimiter
	basicAuth  BasicAuth
	mux        *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// ServerConfig carries the tunable server knobs.
type ServerConfig struct {
	// RateLimit is the per-IP request budget per minute. Zero disables
	// limiting.
	RateLimit int

	// CacheTTL bounds how long identical verification requests reuse a
	// previous verdict. Zero disables caching.
	CacheTTL time.Duration
}

// NewServer creates a new Server with default mux. recognizer and local may be
// nil; photo verification and the local receipt fallback are then disabled.
func NewServer(verifier Verifier, recognizer scanning.Recognizer, local LocalVerifier, history HistoryStore, settings SettingsStore, basicAuth BasicAuth, cfg ServerConfig) *Server {
	return NewServerWithMux(verifier, recognizer, local, history, settings, basicAuth, cfg, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(verifier Verifier, recognizer scanning.Recognizer, local LocalVerifier, history HistoryStore, settings SettingsStore, basicAuth BasicAuth, cfg ServerConfig, mux *http.ServeMux) *Server {
	s := &Server{
		verifier:   verifier,
		recognizer: recognizer,
		local:      local,
		history:    history,
		settings:   settings,
		basicAuth:  basicAuth,
		mux:        mux,
	}
	if cfg.CacheTTL > 0 {
		s.cache = newTTLCache(cfg.CacheTTL)
	}
	if cfg.RateLimit > 0 {
		s.limiter = newFixedWindowLimiter(cfg.RateLimit, time.Minute)
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			// Ensure CORS headers are set before error response
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Payment Verifier"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// withRequestID tags each request with an ID, echoes it in the response, and
// logs method, path, status and latency.
func (s *Server) withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := newRequestID()
		w.Header().Set("x-request-id", requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		slog.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// withRateLimit enforces the per-IP request budget and reports the window
// state in x-ratelimit-* headers.
func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next(w, r)
			return
		}

		decision := s.limiter.Hit(clientIP(r))
		w.Header().Set("x-ratelimit-limit", strconv.Itoa(decision.Limit))
		w.Header().Set("x-ratelimit-remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("x-ratelimit-reset", strconv.FormatInt(decision.Reset, 10))

		if !decision.Allowed {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"detail": "Too many requests"})
			return
		}
		next(w, r)
	}
}

// api chains the standard middleware for API endpoints.
func (s *Server) api(next http.HandlerFunc) http.HandlerFunc {
	return s.withRequestID(s.withRateLimit(s.requireAuth(next)))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func newRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx != -1 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.withRequestID(s.handleHealth))

	s.mux.HandleFunc("POST /api/verify/reference", s.api(s.handleVerifyReference))
	s.mux.HandleFunc("POST /api/verify/photo", s.api(s.handleVerifyPhoto))
	s.mux.HandleFunc("POST /api/verify/receipt", s.api(s.handleVerifyReceipt))

	s.mux.HandleFunc("GET /api/history", s.api(s.handleListHistory))
	s.mux.HandleFunc("DELETE /api/history", s.api(s.handleClearHistory))

	s.mux.HandleFunc("GET /api/settings/base-url", s.api(s.handleGetBaseURL))
	s.mux.HandleFunc("PUT /api/settings/base-url", s.api(s.handleSetBaseURL))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	// Wrap the mux with CORS middleware to handle all requests including OPTIONS
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
