package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"quotad/internal/constants"
	"quotad/internal/notification"
	"quotad/internal/reaction"
	"quotad/internal/security"
	"quotad/internal/types"
	"quotad/internal/utils"
)

func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// contextUntil derives a context that is also cancelled when stop is done.
func contextUntil(parent, stop context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	unregister := context.AfterFunc(stop, cancel)
	return ctx, func() {
		unregister()
		cancel()
	}
}

func (s *Server) handleToggleReaction(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	target := urlParam(r, "target")
	if !security.ValidateName(target) {
		badRequest(w, "Invalid target")
		return
	}

	ctx := r.Context()
	if _, err := s.provision(r, user, constants.LimitTypeReaction, s.cfg.ReactionQuota); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.limits.Decrement(ctx, user, 1, constants.LimitTypeReaction); err != nil {
		s.writeError(w, r, err)
		return
	}

	reacted, err := s.reactions.Toggle(ctx, user, target)
	if err != nil {
		if _, rerr := s.limits.Refund(ctx, user, 1, constants.LimitTypeReaction); rerr != nil {
			s.logger.Warn("Failed to refund reaction quota", "user", user, "error", rerr)
		}
		s.writeError(w, r, err)
		return
	}
	count, err := s.reactions.Count(ctx, target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, types.ToggleReactionResponse{Target: target, Reacted: reacted, Count: count})
}

func (s *Server) handleCountReactions(w http.ResponseWriter, r *http.Request) {
	target := urlParam(r, "target")
	if !security.ValidateName(target) {
		badRequest(w, "Invalid target")
		return
	}
	count, err := s.reactions.Count(r.Context(), target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, types.ReactionCountResponse{Target: target, Count: count})
}

func (s *Server) handleListReactions(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.reactions.ListByAuthor(r.Context(), user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*reaction.Reaction{}
	}
	utils.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var read *bool
	if raw := r.URL.Query().Get("read"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(w, "read must be true or false")
			return
		}
		read = &v
	}

	list, err := s.notifications.List(r.Context(), user, read)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*notification.Notification{}
	}
	utils.WriteJSON(w, http.StatusOK, list)
}

// notificationAction runs fn for the session user and the {id} parameter and
// answers 204 on success.
func (s *Server) notificationAction(fn func(ctx context.Context, recipient, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.currentUser(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := fn(r.Context(), user, urlParam(r, "id")); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.notificationAction(s.notifications.MarkRead)(w, r)
}

func (s *Server) handleMarkUnread(w http.ResponseWriter, r *http.Request) {
	s.notificationAction(s.notifications.MarkUnread)(w, r)
}

func (s *Server) handleClearNotification(w http.ResponseWriter, r *http.Request) {
	s.notificationAction(s.notifications.Clear)(w, r)
}
