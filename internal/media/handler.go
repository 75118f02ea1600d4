package media

import (
	"net/http"

	"mpchat/internal/apperr"
	"mpchat/internal/httpx"
	"mpchat/internal/logging"
	myMiddleware "mpchat/internal/middleware"
)

type Handler struct {
	presigner *Presigner
	log       logging.Logger
}

func NewHandler(p *Presigner, log logging.Logger) *Handler {
	return &Handler{presigner: p, log: log}
}

func (h *Handler) UploadURL(w http.ResponseWriter, r *http.Request) {
	sess, ok := myMiddleware.SessionFrom(r.Context())
	if !ok {
		httpx.WriteError(w, r, h.log, apperr.Unauthorized("Not authenticated"))
		return
	}

	var req UploadRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	out, err := h.presigner.UploadURL(r.Context(), sess.UserID, req)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"key":        out.Key,
		"url":        out.URL,
		"expires_at": out.ExpiresAt,
	})
}

func (h *Handler) DownloadURL(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		httpx.WriteError(w, r, h.log, apperr.Validation("missing required fields: key"))
		return
	}

	out, err := h.presigner.DownloadURL(r.Context(), key)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"url":        out.URL,
		"expires_at": out.ExpiresAt,
	})
}
