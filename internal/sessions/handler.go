package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekinok/sessiond/internal/httpx"
	"github.com/ekinok/sessiond/internal/identity"
	"github.com/ekinok/sessiond/internal/trusteddevice"
)

type Handler interface {
	Routes() chi.Router
}

type sessionHandler struct {
	service   *Service
	logger    *zap.Logger
	validator *validator.Validate
}

func NewHandler(service *Service, logger *zap.Logger) Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	return &sessionHandler{
		service:   service,
		logger:    logger,
		validator: v,
	}
}

func (h *sessionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Get("/current", h.CurrentSession)
		r.Get("/{id}/activity", h.SessionActivity)
		r.Post("/{id}/revoke", h.RevokeSession)
	})
	r.Route("/devices", func(r chi.Router) {
		r.Get("/", h.ListDevices)
		r.Post("/trust", h.TrustDevice)
		r.Post("/{id}/revoke", h.RevokeDevice)
	})
	return r
}

func (h *sessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	caller, ok := identity.FromContext(ctx)
	if !ok {
		h.writeUnauthorized(w)
		return
	}

	details, err := h.service.ListSessionsForUser(ctx, caller.UserID, caller.ID)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		h.writeInternal(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, details)
}

func (h *sessionHandler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeUnauthorized(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, caller)
}

func (h *sessionHandler) SessionActivity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	caller, ok := identity.FromContext(ctx)
	if !ok {
		h.writeUnauthorized(w)
		return
	}

	sessionID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	// out-of-range limits are clamped downstream; only a non-numeric value
	// is rejected
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(w, http.StatusUnprocessableEntity, httpx.ErrorResponse[any]{
				Code:    httpx.ErrValidationFailed,
				Message: "limit must be an integer",
			})
			return
		}
		limit = parsed
	}

	page, err := h.service.GetSessionActivity(ctx, caller.UserID, sessionID, limit)
	if err != nil {
		if errors.Is(err, ErrNotSessionOwner) {
			h.writeNotFound(w)
			return
		}
		h.logger.Error("failed to get session activity", zap.Error(err))
		h.writeInternal(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, page)
}

func (h *sessionHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	caller, ok := identity.FromContext(ctx)
	if !ok {
		h.writeUnauthorized(w)
		return
	}

	sessionID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.RevokeSession(ctx, caller.UserID, sessionID); err != nil {
		if errors.Is(err, ErrNotSessionOwner) {
			h.writeNotFound(w)
			return
		}
		h.logger.Error("failed to revoke session", zap.Error(err))
		h.writeInternal(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"revoked": sessionID})
}

func (h *sessionHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	caller, ok := identity.FromContext(ctx)
	if !ok {
		h.writeUnauthorized(w)
		return
	}

	devices, err := h.service.ListTrustedDevices(ctx, caller.UserID)
	if err != nil {
		h.logger.Error("failed to list trusted devices", zap.Error(err))
		h.writeInternal(w)
		return
	}
	if devices == nil {
		devices = []trusteddevice.TrustedDevice{}
	}

	httpx.WriteJSON(w, http.StatusOK, devices)
}

type trustDeviceRequest struct {
	Fingerprint string     `json:"fingerprint"  validate:"required,min=8,max=128"`
	DeviceName  string     `json:"device_name"  validate:"required,min=1,max=64"`
	DeviceType  string     `json:"device_type"  validate:"omitempty,oneof=desktop mobile tablet unknown"`
	TrustLevel  string     `json:"trust_level"  validate:"required,oneof=low medium high"`
	ExpiresAt   *time.Time `json:"expires_at"   validate:"omitempty"`
}

func (h *sessionHandler) TrustDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	caller, ok := identity.FromContext(ctx)
	if !ok {
		h.writeUnauthorized(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		httpx.WriteError(w, http.StatusUnsupportedMediaType, httpx.ErrorResponse[any]{
			Code:    httpx.ErrUnsupportedMedia,
			Message: "Content-Type must be application/json",
		})
		return
	}

	var req trustDeviceRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("failed to decode trust request body", zap.Error(err))
		httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorResponse[any]{
			Code:    httpx.ErrInvalidJSON,
			Message: "invalid request body",
		})
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF { // check if there's any trailing data
		httpx.WriteError(w, http.StatusBadRequest, httpx.ErrorResponse[any]{
			Code:    httpx.ErrInvalidJSON,
			Message: "request body must contain a single JSON object",
		})
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("trust request validation failed", zap.Error(err))
		httpx.WriteError(w, http.StatusUnprocessableEntity, httpx.ErrorResponse[[]httpx.FieldError]{
			Code:    httpx.ErrValidationFailed,
			Message: "validation failed",
			Details: httpx.ValidationDetails(err),
		})
		return
	}

	deviceType := req.DeviceType
	if deviceType == "" {
		deviceType = "unknown"
	}

	device, err := h.service.TrustDevice(ctx, trusteddevice.TrustParams{
		UserID:      caller.UserID,
		Fingerprint: req.Fingerprint,
		DeviceName:  req.DeviceName,
		DeviceType:  deviceType,
		TrustLevel:  trusteddevice.TrustLevel(req.TrustLevel),
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		if errors.Is(err, trusteddevice.ErrInvalidTrustLevel) {
			httpx.WriteError(w, http.StatusUnprocessableEntity, httpx.ErrorResponse[any]{
				Code:    httpx.ErrValidationFailed,
				Message: "invalid trust level",
			})
			return
		}
		h.logger.Error("failed to trust device", zap.Error(err))
		h.writeInternal(w)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, device)
}

func (h *sessionHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	caller, ok := identity.FromContext(ctx)
	if !ok {
		h.writeUnauthorized(w)
		return
	}

	deviceID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.RevokeTrustedDevice(ctx, deviceID, caller.UserID); err != nil {
		if errors.Is(err, trusteddevice.ErrNotFound) {
			h.writeNotFound(w)
			return
		}
		h.logger.Error("failed to revoke trusted device", zap.Error(err))
		h.writeInternal(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"revoked": deviceID})
}

func (h *sessionHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, http.StatusUnprocessableEntity, httpx.ErrorResponse[any]{
			Code:    httpx.ErrValidationFailed,
			Message: "malformed id",
		})
		return uuid.Nil, false
	}
	return id, true
}

func (h *sessionHandler) writeUnauthorized(w http.ResponseWriter) {
	httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrorResponse[any]{
		Code:    httpx.ErrUnauthorized,
		Message: "authentication required",
	})
}

func (h *sessionHandler) writeNotFound(w http.ResponseWriter) {
	httpx.WriteError(w, http.StatusNotFound, httpx.ErrorResponse[any]{
		Code:    httpx.ErrNotFound,
		Message: "not found",
	})
}

func (h *sessionHandler) writeInternal(w http.ResponseWriter) {
	httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorResponse[any]{
		Code:    httpx.ErrInternal,
		Message: "internal server error",
	})
}
