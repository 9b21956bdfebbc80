package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"petshop-provenance-ledger/internal/domain/entity"
	"petshop-provenance-ledger/internal/domain/service"
	"petshop-provenance-ledger/internal/infrastructure/config"
	"petshop-provenance-ledger/internal/infrastructure/logger"
	apperrors "petshop-provenance-ledger/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const (
	headerRequestID = "X-Request-ID"
	maxEventBody    = 1 << 20
)

// Ledger is the ledger surface served over HTTP
type Ledger interface {
	AddBlock(ctx context.Context, eventType entity.EventType, eventData map[string]any, documentHashes []string) (*entity.LedgerRecord, error)
	GetPetHistory(ctx context.Context, petCode string) (*entity.PetHistory, error)
	GetHistoryByField(ctx context.Context, field, value string) ([]*entity.LedgerRecord, error)
	VerifyChain(ctx context.Context, field, value string) (*entity.VerificationResult, error)
	GetVerificationCertificate(ctx context.Context, petCode string) (*entity.VerificationCertificate, error)
	GetStats(ctx context.Context) (*entity.LedgerStats, error)
}

// HealthChecker produces a live health snapshot
type HealthChecker interface {
	CheckHealth(ctx context.Context) *entity.SystemHealth
}

// Envelope wraps every JSON response
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// EventRequest is the body of POST /event
type EventRequest struct {
	EventType      entity.EventType `json:"eventType"`
	EventData      map[string]any   `json:"eventData"`
	DocumentHashes []string         `json:"documentHashes"`
}

// AcceptedEvent is returned for asynchronously emitted events
type AcceptedEvent struct {
	EventID string `json:"eventId"`
}

// Server serves the ledger HTTP API
type Server struct {
	ledger  Ledger
	emitter service.EventEmitter
	health  HealthChecker
	hub     *Hub
	config  *config.Config
	logger  *logger.Logger

	server *http.Server
}

// NewServer creates the HTTP server. emitter and health may be nil.
func NewServer(
	cfg *config.Config,
	ledger Ledger,
	emitter service.EventEmitter,
	health HealthChecker,
	hub *Hub,
	logger *logger.Logger,
) *Server {
	return &Server{
		ledger:  ledger,
		emitter: emitter,
		health:  health,
		hub:     hub,
		config:  cfg,
		logger:  logger.WithComponent("http-api"),
	}
}

// Handler returns the routed handler with CORS and request logging applied
func (s *Server) Handler() http.Handler {
	base := strings.TrimSuffix(s.config.HTTP.BasePath, "/")

	router := httprouter.New()
	router.GET(base+"/pet/:petCode", s.getPetHistory)
	router.GET(base+"/verify", s.verifyChain)
	router.GET(base+"/verify/:field/:value", s.verifyChain)
	router.GET(base+"/certificate/:petCode", s.getCertificate)
	router.GET(base+"/stats", s.requireBearer(s.getStats))
	router.GET(base+"/history/:field/:value", s.getHistory)
	router.POST(base+"/event", s.postEvent)
	router.GET(base+"/health", s.getHealth)
	if s.hub != nil {
		router.Handler(http.MethodGet, base+"/ws", s.hub)
	}

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found")
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		s.logger.Error("Panic in HTTP handler", zap.Any("panic", v), zap.String("path", r.URL.Path))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}

	origins := s.config.HTTP.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Prefer", headerRequestID},
		ExposedHeaders: []string{headerRequestID},
		MaxAge:         600,
	})

	return s.logRequests(c.Handler(router))
}

// Start binds the listener and serves in the background
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.HTTP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.HTTP.ReadTimeout,
		WriteTimeout: s.config.HTTP.WriteTimeout,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("HTTP API listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("base_path", s.config.HTTP.BasePath))
	return nil
}

// Stop drains in-flight requests and disconnects feed subscribers
func (s *Server) Stop(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) getPetHistory(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	history, err := s.ledger.GetPetHistory(r.Context(), ps.ByName("petCode"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) verifyChain(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	result, err := s.ledger.VerifyChain(r.Context(), ps.ByName("field"), ps.ByName("value"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getCertificate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	cert, err := s.ledger.GetVerificationCertificate(r.Context(), ps.ByName("petCode"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if cert.Error != "" {
		writeError(w, http.StatusNotFound, cert.Error)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stats, err := s.ledger.GetStats(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	records, err := s.ledger.GetHistoryByField(r.Context(), ps.ByName("field"), ps.ByName("value"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// postEvent appends synchronously, or emits when the caller prefers an
// asynchronous response
func (s *Server) postEvent(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req EventRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if s.emitter != nil && prefersAsync(r) {
		msg := &entity.EventMessage{
			EventType:      req.EventType,
			EventData:      req.EventData,
			DocumentHashes: req.DocumentHashes,
		}
		if err := s.emitter.Emit(r.Context(), msg); err != nil {
			s.handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, AcceptedEvent{EventID: msg.EventID})
		return
	}

	record, err := s.ledger.AddBlock(r.Context(), req.EventType, req.EventData, req.DocumentHashes)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(entity.HealthStatusHealthy)})
		return
	}
	health := s.health.CheckHealth(r.Context())
	status := http.StatusOK
	if health.Status == entity.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// requireBearer accepts HS256 tokens signed with auth.jwt_secret. With no
// secret configured every request is rejected.
func (s *Server) requireBearer(next httprouter.Handle) httprouter.Handle {
	secret := []byte(s.config.Auth.JWTSecret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		raw, ok := bearerToken(r)
		if !ok || len(secret) == 0 {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		token, err := parser.Parse(raw, func(*jwt.Token) (interface{}, error) { return secret, nil })
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next(w, r, ps)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func prefersAsync(r *http.Request) bool {
	for _, v := range r.Header.Values("Prefer") {
		for _, pref := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(pref), "respond-async") {
				return true
			}
		}
	}
	return false
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case apperrors.IsValidation(err):
		message := err.Error()
		var le *apperrors.LedgerError
		if errors.As(err, &le) {
			message = le.Message
		}
		writeError(w, http.StatusBadRequest, message)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "Request timed out")
	case apperrors.IsCode(err, apperrors.ErrCodeMessaging):
		writeError(w, http.StatusServiceUnavailable, "Event queue unavailable")
	default:
		s.logger.Error("Request failed",
			zap.String("request_id", w.Header().Get(headerRequestID)),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Success: false, Message: message})
}

// logRequests tags each request with an id and logs its outcome
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.WithRequestID(requestID).Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps WebSocket upgrades working through the recorder
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
