package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"roomchat/internal/util"
	"roomchat/pkg/domain"
	"roomchat/services/chat/internal/app"
	"roomchat/services/chat/internal/security"
)

// RateLimiter bounds how often a user may send messages and pokes.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// SendLimiter is optional; nil disables rate limiting.
	SendLimiter    RateLimiter
	TrustedProxies *util.TrustedProxies
	CORSOrigins    []string
	// Alerter is optional; nil disables security alerting.
	Alerter *security.Alerter
	// HeartbeatInterval spaces keep-alive comments on event streams; zero disables them.
	HeartbeatInterval time.Duration
}

// Server exposes HTTP endpoints for the chat service.
type Server struct {
	app               *app.App
	sendLimiter       RateLimiter
	trustedProxies    *util.TrustedProxies
	corsOrigins       []string
	alerter           *security.Alerter
	heartbeatInterval time.Duration
	mux               *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:               cfg.App,
		sendLimiter:       cfg.SendLimiter,
		trustedProxies:    cfg.TrustedProxies,
		corsOrigins:       cfg.CORSOrigins,
		alerter:           cfg.Alerter,
		heartbeatInterval: cfg.HeartbeatInterval,
		mux:               http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	handler := util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.mux))
	return util.WithRequestID(util.WithRequestLog("chat", handler))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/connect", s.handleConnect)

	s.mux.HandleFunc("/rooms", s.handleRooms)
	s.mux.HandleFunc("/rooms/{roomId}/join", s.handleJoin)
	s.mux.HandleFunc("/rooms/{roomId}/leave", s.handleLeave)
	s.mux.HandleFunc("/rooms/{roomId}/messages", s.handleMessages)
	s.mux.Handle("/rooms/{roomId}/exports", s.withUser(s.handleRequestExport))
	s.mux.Handle("/exports/{jobId}", s.withUser(s.handleExportStatus))
	s.mux.Handle("/poke", s.withUser(s.handlePoke))

	s.mux.HandleFunc("/auth/register", s.handleRegister)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.Handle("/auth/logout", s.withUser(s.handleLogout))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rooms, err := s.app.ListRooms(r.Context())
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rooms)
	case http.MethodPost:
		var req createRoomRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		room, err := s.app.CreateRoom(r.Context(), req.RoomID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, room)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req connectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.Join(r.Context(), r.PathValue("roomId"), req.ConnectionID, s.optionalUser(r)); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req connectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.Leave(r.Context(), r.PathValue("roomId"), req.ConnectionID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var limit *int
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "limit must be an integer")
				return
			}
			limit = &n
		}
		msgs, err := s.app.ListMessages(r.Context(), r.PathValue("roomId"), limit)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, app.HistoryFromMessages(msgs))
	case http.MethodPost:
		s.withUser(s.handleSendMessage).ServeHTTP(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.allowSend(w, r, user) {
		return
	}
	if _, err := s.app.SendMessage(r.Context(), r.PathValue("roomId"), req.Content, &user); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePoke(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req pokeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.allowSend(w, r, user) {
		return
	}
	if err := s.app.Poke(r.Context(), req.TargetConnectionID, &user); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequestExport(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	job, err := s.app.RequestExport(r.Context(), r.PathValue("roomId"), &user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	job, err := s.app.ExportStatus(r.Context(), r.PathValue("jobId"), &user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.app.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			s.securityEvent(r, "auth.login", security.OutcomeFail)
		}
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, _ := bearerToken(r)
	if err := s.app.Logout(token); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, app.ErrUnauthenticated) {
				s.securityEvent(r, "auth.token", security.OutcomeFail)
			}
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, user)
	})
}

// optionalUser resolves the caller when a valid token is present. Missing or
// invalid tokens make the caller anonymous.
func (s *Server) optionalUser(r *http.Request) *domain.User {
	token, ok := bearerToken(r)
	if !ok {
		return nil
	}
	user, err := s.app.Authenticate(r.Context(), token)
	if err != nil {
		if !errors.Is(err, app.ErrUnauthenticated) {
			util.LoggerFromContext(r.Context()).Warn("resolve optional user", "err", err)
		}
		return nil
	}
	return &user
}

func (s *Server) allowSend(w http.ResponseWriter, r *http.Request, user domain.User) bool {
	if s.sendLimiter == nil {
		return true
	}
	allowed, retryAfter := s.sendLimiter.Allow(r.Context(), "send:"+user.ID)
	if allowed {
		return true
	}
	s.securityEvent(r, "chat.send", security.OutcomeRateLimited)
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}

// securityEvent logs the event and escalates to an alert once the client
// crosses the rule threshold.
func (s *Server) securityEvent(r *http.Request, event, outcome string) {
	logger := util.LoggerFromContext(r.Context())
	ip := util.ClientIP(r, s.trustedProxies)
	logger.Warn("security_event", "event", event, "outcome", outcome, "client_ip", ip)
	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert counter failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"client_ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrRoomNotFound), errors.Is(err, app.ErrExportNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrRoomAlreadyExists), errors.Is(err, app.ErrNicknameTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrExportsDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type createRoomRequest struct {
	RoomID string `json:"roomId"`
}

type connectionRequest struct {
	ConnectionID string `json:"connectionId"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type pokeRequest struct {
	TargetConnectionID string `json:"targetConnectionId"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
