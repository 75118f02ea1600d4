package user

import (
	"errors"
	"net/http"

	"mpchat/internal/apperr"
	"mpchat/internal/httpx"
	"mpchat/internal/logging"
	myMiddleware "mpchat/internal/middleware"
)

type Handler struct {
	Service *Service
	log     logging.Logger
}

func NewHandler(s *Service, log logging.Logger) *Handler {
	return &Handler{Service: s, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	u, err := h.Service.Register(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Registration successful",
		"user":    u,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	res, err := h.Service.Login(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "Login successful",
		"token":      res.Token,
		"expires_at": res.ExpiresAt,
		"user":       res.User,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, ok := myMiddleware.SessionFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, h.log, apperr.Unauthorized("Not authenticated"))
		return
	}

	if err := h.Service.Logout(r.Context(), sess); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logout successful",
	})
}

// CheckAuth reports whether the request carries a live session. It never
// fails with 401.
func (h *Handler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	sess, ok := myMiddleware.SessionFrom(r.Context())
	if !ok {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}

	u, err := h.Service.Get(r.Context(), sess.UserID)
	if errors.Is(err, apperr.ErrNotFound) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          u,
	})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	sess, ok := myMiddleware.SessionFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, h.log, apperr.Unauthorized("Not authenticated"))
		return
	}

	users, err := h.Service.ListOthers(r.Context(), sess.UserID)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"users":   users,
	})
}
