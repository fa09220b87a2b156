package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"wallet-auth-service/internal/apperrors"
	"wallet-auth-service/internal/models"
	"wallet-auth-service/internal/service"
	"wallet-auth-service/internal/util"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type initiateRequest struct {
	Identifier string `json:"identifier"`
	DomainHint string `json:"domain_hint,omitempty"`
}

type initiateResponse struct {
	SessionID        string `json:"session_id"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
	DebugCode        string `json:"debug_code,omitempty"`
}

type verifyRequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}

type verifyResponse struct {
	Success           bool `json:"success"`
	AttemptsRemaining int  `json:"attempts_remaining"`
}

type webauthnStartRequest struct {
	Identifier string `json:"identifier"`
}

type webauthnStartResponse struct {
	Challenge        string   `json:"challenge"`
	AllowCredentials []string `json:"allow_credentials"`
	RPID             string   `json:"rp_id"`
	TimeoutMs        int      `json:"timeout_ms"`
}

type webauthnCompleteRequest struct {
	Identifier string            `json:"identifier"`
	Assertion  *models.Assertion `json:"assertion"`
}

type webauthnCompleteResponse struct {
	Success      bool   `json:"success"`
	SessionToken string `json:"session_token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *AuthHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: malformed request body", apperrors.ErrValidation))
		return
	}

	result, err := h.auth.Initiate(r.Context(), req.Identifier, clientMeta(r, req.DomainHint))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, initiateResponse{
		SessionID:        result.SessionID,
		ExpiresInSeconds: result.ExpiresInSeconds,
		DebugCode:        result.DebugCode,
	})
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: malformed request body", apperrors.ErrValidation))
		return
	}
	if req.SessionID == "" || req.Code == "" {
		writeError(w, fmt.Errorf("%w: session_id and code are required", apperrors.ErrValidation))
		return
	}

	outcome, err := h.auth.Verify(r.Context(), req.SessionID, req.Code, clientMeta(r, ""))
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if !outcome.Success {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, verifyResponse{
		Success:           outcome.Success,
		AttemptsRemaining: outcome.AttemptsRemaining,
	})
}

func (h *AuthHandler) WebAuthnStart(w http.ResponseWriter, r *http.Request) {
	var req webauthnStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: malformed request body", apperrors.ErrValidation))
		return
	}

	result, err := h.auth.WebAuthnStart(r.Context(), req.Identifier)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, webauthnStartResponse{
		Challenge:        result.Challenge,
		AllowCredentials: result.AllowCredentials,
		RPID:             result.RPID,
		TimeoutMs:        result.TimeoutMs,
	})
}

func (h *AuthHandler) WebAuthnComplete(w http.ResponseWriter, r *http.Request) {
	var req webauthnCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: malformed request body", apperrors.ErrValidation))
		return
	}

	result, err := h.auth.WebAuthnComplete(r.Context(), req.Identifier, req.Assertion)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, webauthnCompleteResponse{
		Success:      true,
		SessionToken: result.SessionToken,
	})
}

func clientMeta(r *http.Request, domainHint string) models.ClientMeta {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip = host
	}
	return models.ClientMeta{
		UserAgent:  r.UserAgent(),
		IPAddress:  ip,
		DomainHint: domainHint,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		util.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	if rle, ok := apperrors.IsRateLimited(err); ok {
		retryAfter := int(rle.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limited"})
		return
	}

	switch {
	case errors.Is(err, apperrors.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrCredentialUnusable):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, apperrors.ErrAlreadyUsed):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "session already used"})
	case errors.Is(err, apperrors.ErrExpired):
		writeJSON(w, http.StatusGone, errorResponse{Error: "session expired"})
	case errors.Is(err, apperrors.ErrAttemptsExceeded):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "attempts exceeded"})
	case errors.Is(err, apperrors.ErrAssertionInvalid):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "assertion rejected"})
	case errors.Is(err, apperrors.ErrCloneDetected):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "credential deactivated"})
	default:
		util.Error("Unhandled request error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
