package httpx

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/ilham-s-saksena/race-condition/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, fieldErrors{"body": {"The request body must be a JSON object."}})
		return
	}
	errs := fieldErrors{}
	if strings.TrimSpace(req.Email) == "" {
		errs.add("email", "The email field is required.")
	}
	if req.Password == "" {
		errs.add("password", "The password field is required.")
	}
	if len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		h.Log.WithError(err).Error("login")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Auth.Logout(r.Context(), bearerToken(r)); err != nil {
		h.Log.WithError(err).Error("logout")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) currentUser(w http.ResponseWriter, r *http.Request) {
	user, _ := PrincipalFrom(r.Context())
	writeJSON(w, http.StatusOK, user)
}
