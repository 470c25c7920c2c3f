package httpapi

import (
	"errors"
	"net/http"
	"time"

	"prestacao.org/internal/audit"
	"prestacao.org/internal/auth"
	"prestacao.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginUser struct {
	ID    int64     `json:"id"`
	Email string    `json:"email"`
	Role  auth.Role `json:"role"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      loginUser `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			obs.RecordLogin("invalid")
			_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
				"client_ip": clientIP(r),
			})
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		obs.RecordLogin("error")
		obs.LogError("login failed", err, map[string]any{"request_id": audit.RequestID(r.Context())})
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	obs.RecordLogin("ok")
	ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{UserID: sess.User.ID, Role: sess.User.Role})
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{
		"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt.UTC(),
		User: loginUser{
			ID:    sess.User.ID,
			Email: sess.User.Email,
			Role:  sess.User.Role,
		},
	})
}
