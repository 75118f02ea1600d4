package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"

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

// Routes mounts the admin endpoints. auth attaches the caller's session;
// anything but an admin session gets 403.
func (h *Handler) Routes(auth func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(auth, myMiddleware.RequireAdmin)
	r.Get("/users", h.ListUsers)
	r.Delete("/users/{id}", h.DeleteUser)
	r.Get("/chats", h.ListChats)
	r.Delete("/chats/{id}", h.DeleteChat)
	return r
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.ListUsers(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "users": users})
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := myMiddleware.SessionFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, h.log, apperr.Unauthorized("Unauthorized"))
		return
	}

	if err := h.Service.DeleteUser(r.Context(), sess.UserID, chi.URLParam(r, "id")); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": "User deleted successfully"})
}

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.Service.ListChats(r.Context())
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "chats": chats})
}

func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Service.DeleteChat(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Chat deleted successfully"})
}
