package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"quotad/internal/constants"
	"quotad/internal/limit"
	"quotad/internal/notification"
	"quotad/internal/reaction"
	"quotad/internal/session"
	"quotad/internal/types"
	"quotad/internal/utils"
)

// Error codes of the JSON error envelope.
const (
	codeBadRequest      = "bad_request"
	codeNotFound        = "not_found"
	codeQuotaExceeded   = "quota_exceeded"
	codeNotLoggedIn     = "not_logged_in"
	codeAlreadyLoggedIn = "already_logged_in"
	codeForbidden       = "forbidden"
	codeTooManyConns    = "too_many_connections"
	codeInternal        = "internal"
)

// quotaExceededBody is the error envelope of a 429 response; it carries the
// pool state next to the usual code and message.
type quotaExceededBody struct {
	Error struct {
		utils.ErrorBody
		types.QuotaExceededResponse
	} `json:"error"`
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if qe := limit.AsQuotaExceeded(err); qe != nil {
		s.writeQuotaExceeded(w, qe)
		return
	}

	switch {
	case errors.Is(err, limit.ErrNotFound),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, notification.ErrNotFound),
		errors.Is(err, reaction.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, codeNotFound, constants.MsgNotFound)
	case errors.Is(err, session.ErrNotLoggedIn):
		utils.WriteError(w, http.StatusUnauthorized, codeNotLoggedIn, constants.MsgNotLoggedIn)
	case errors.Is(err, session.ErrAlreadyLoggedIn):
		utils.WriteError(w, http.StatusForbidden, codeAlreadyLoggedIn, constants.MsgAlreadyLoggedIn)
	case errors.Is(err, limit.ErrInvalidAmount),
		errors.Is(err, limit.ErrInvalidResource),
		errors.Is(err, notification.ErrInvalidContent):
		utils.WriteError(w, http.StatusBadRequest, codeBadRequest, err.Error())
	default:
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, codeInternal, constants.MsgInternalError)
	}
}

func (s *Server) writeQuotaExceeded(w http.ResponseWriter, qe *limit.QuotaExceededError) {
	seconds := int64(math.Ceil(qe.RetryAfter.Seconds()))
	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))

	var body quotaExceededBody
	body.Error.Code = codeQuotaExceeded
	body.Error.Message = constants.MsgQuotaExceeded
	body.Error.Remaining = qe.Remaining
	body.Error.Requested = qe.Requested
	body.Error.ResetTime = qe.ResetTime
	body.Error.RetryAfter = seconds
	utils.WriteJSON(w, http.StatusTooManyRequests, body)
}

func badRequest(w http.ResponseWriter, message string) {
	utils.WriteError(w, http.StatusBadRequest, codeBadRequest, message)
}
