package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"quotad/internal/constants"
	"quotad/internal/limit"
	"quotad/internal/security"
	"quotad/internal/session"
	"quotad/internal/types"
	"quotad/internal/utils"
)

// userNamespace scopes the name based user ids.
var userNamespace = uuid.MustParse("6f1c4e2a-9d3b-5a7e-8c1f-2b4d6e8a0c3f")

// userIDFor maps a username to its stable user id. Usernames are case
// insensitive.
func userIDFor(username string) string {
	return uuid.NewSHA1(userNamespace, []byte(strings.ToLower(username))).String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, types.HealthResponse{Status: "ok", Time: s.clock.Now().UTC()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(ctx)

	user, err := s.sessions.GetUser(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, types.SessionResponse{
		SessionID:    id,
		UserID:       user,
		LoggedIn:     true,
		TimeLoggedIn: s.sessions.CalculateTimeLoggedIn(ctx, id).Milliseconds(),
	})
}

// provision returns the pool of resource, creating it with def on first use
// and refilling it once its reset time has passed.
func (s *Server) provision(r *http.Request, resource, limitType string, def int64) (*limit.Record, error) {
	rec, err := s.limits.EnsureLimit(r.Context(), resource, limitType, def)
	if err != nil {
		return nil, err
	}
	if !rec.ResetTime.After(s.clock.Now()) {
		return s.limits.Reset(r.Context(), resource, limitType)
	}
	return rec, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		badRequest(w, constants.MsgInvalidJSON)
		return
	}
	username := security.SanitizeInput(strings.TrimSpace(req.Username))
	if !security.ValidateName(username) {
		badRequest(w, "Invalid username")
		return
	}

	ctx := r.Context()
	id := sessionID(ctx)
	if err := s.sessions.IsLoggedOut(ctx, id); err != nil {
		s.writeError(w, r, err)
		return
	}

	userID := userIDFor(username)
	rec, err := s.provision(r, userID, constants.LimitTypeLoginToken, s.cfg.LoginQuota)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rec.Remaining <= 0 {
		wait := max(rec.ResetTime.Sub(s.clock.Now()), 0)
		s.audit.LogLoginRejected(security.GetClientIP(r), id, userID,
			"login quota exhausted, resets in "+utils.FormatDuration(wait))
		s.writeQuotaExceeded(w, &limit.QuotaExceededError{
			Resource:   userID,
			Type:       constants.LimitTypeLoginToken,
			Remaining:  rec.Remaining,
			ResetTime:  rec.ResetTime,
			RetryAfter: wait,
		})
		return
	}

	state, err := s.sessions.Start(ctx, id, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.issueCookie(w, r)
	utils.WriteJSON(w, http.StatusOK, types.LoginResponse{
		UserID:         userID,
		Username:       username,
		LoginTime:      state.LoginTime,
		RemainingQuota: rec.Remaining,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(ctx)
	if err := s.sessions.IsLoggedIn(ctx, id); err != nil {
		s.writeError(w, r, err)
		return
	}

	// The final interval is charged before the session ends; a failure here
	// must not keep the user logged in.
	if err := s.reconciler.Settle(ctx, id); err != nil {
		s.logger.Warn("Failed to settle session on logout", "session", id, "error", err)
	}

	state, err := s.sessions.End(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, types.LogoutResponse{
		UserID:       state.User,
		TimeLoggedIn: session.TimeLoggedIn(state, s.clock.Now()).Milliseconds(),
	})
}

// limitKey reads and validates the {resource} and {type} path parameters.
func limitKey(w http.ResponseWriter, r *http.Request, withType bool) (resource, limitType string, ok bool) {
	resource = urlParam(r, "resource")
	if !security.ValidateName(resource) {
		badRequest(w, "Invalid resource")
		return "", "", false
	}
	if !withType {
		return resource, "", true
	}
	limitType = urlParam(r, "type")
	if !security.ValidateName(limitType) {
		badRequest(w, "Invalid limit type")
		return "", "", false
	}
	return resource, limitType, true
}

func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	resource, limitType, ok := limitKey(w, r, true)
	if !ok {
		return
	}
	var req types.SetLimitRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		badRequest(w, constants.MsgInvalidJSON)
		return
	}

	var opts *limit.Options
	if req.BackgroundColor != "" {
		opts = &limit.Options{BackgroundColor: security.SanitizeInput(req.BackgroundColor)}
	}
	rec, err := s.limits.SetLimit(r.Context(), resource, req.Limit, limitType, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDecrement(w http.ResponseWriter, r *http.Request) {
	resource, limitType, ok := limitKey(w, r, true)
	if !ok {
		return
	}
	var req types.DecrementRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		badRequest(w, constants.MsgInvalidJSON)
		return
	}

	rec, err := s.limits.Decrement(r.Context(), resource, req.Amount, limitType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	resource, limitType, ok := limitKey(w, r, true)
	if !ok {
		return
	}
	rec, err := s.limits.Reset(r.Context(), resource, limitType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	resource, limitType, ok := limitKey(w, r, true)
	if !ok {
		return
	}
	status, err := s.limits.GetStatus(r.Context(), resource, limitType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetRemaining(w http.ResponseWriter, r *http.Request) {
	resource, limitType, ok := limitKey(w, r, true)
	if !ok {
		return
	}
	remaining, err := s.limits.GetRemaining(r.Context(), resource, limitType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, types.RemainingResponse{Resource: resource, Type: limitType, Remaining: remaining})
}

func (s *Server) handleTimeUntilReset(w http.ResponseWriter, r *http.Request) {
	resource, limitType, ok := limitKey(w, r, true)
	if !ok {
		return
	}
	wait, err := s.limits.TimeUntilReset(r.Context(), resource, limitType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, wait)
}

func (s *Server) handleListLimits(w http.ResponseWriter, r *http.Request) {
	resource, _, ok := limitKey(w, r, false)
	if !ok {
		return
	}
	recs, err := s.limits.List(r.Context(), resource)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*limit.Record{}
	}
	utils.WriteJSON(w, http.StatusOK, recs)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ip := security.GetClientIP(r)
	if !s.connLimiter.TryConnect(ip) {
		s.audit.LogConnectionLimit(ip)
		utils.WriteError(w, http.StatusTooManyRequests, codeTooManyConns, constants.MsgConnectionLimited)
		return
	}
	defer s.connLimiter.Disconnect(ip)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.logger.Debug("WebSocket upgrade failed", "ip", ip, "error", err)
		return
	}

	s.metrics.WebSocketConnected()
	defer s.metrics.WebSocketDisconnected()

	ctx, cancel := contextUntil(r.Context(), s.stopping)
	defer cancel()

	start := time.Now()
	s.logger.Info("Notification stream opened", "user", user, "ip", ip)
	if err := s.notifications.Hub().Stream(ctx, conn, user); err != nil {
		s.logger.Debug("Notification stream error", "user", user, "error", err)
	}
	s.logger.Info("Notification stream closed", "user", user, "duration", time.Since(start).Round(time.Second))
}
