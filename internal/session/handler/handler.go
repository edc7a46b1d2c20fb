// Package handler exposes the authentication protocol over HTTP. Field names
// in request and response bodies are the wire contract with group clients.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"grouplock/internal/platform/metrics"
	"grouplock/internal/platform/middleware"
	"grouplock/internal/session/models"
	"grouplock/internal/session/service"
	id "grouplock/pkg/domain"
	dErrors "grouplock/pkg/domain-errors"
	"grouplock/pkg/platform/httputil"
	"grouplock/pkg/requestcontext"
)

// SessionService defines the orchestrator operations the handler needs.
type SessionService interface {
	CreateSession(ctx context.Context, groupID id.GroupID, initiator id.PrincipalID) (*models.Session, error)
	GetSession(ctx context.Context, sessionID id.SessionID, principal id.PrincipalID) (*models.Session, error)
	SubmitSignature(ctx context.Context, sessionID id.SessionID, signer id.PrincipalID, template []byte) (*service.SubmitResult, error)
	CancelSession(ctx context.Context, sessionID id.SessionID, actor id.PrincipalID) (*models.Session, error)
	UpdateIntent(ctx context.Context, groupID id.GroupID, principal id.PrincipalID, isWaiting bool) error
	SetQuorum(ctx context.Context, groupID id.GroupID, actor id.PrincipalID, quorumK int) error
	ListSignatures(ctx context.Context, sessionID id.SessionID, principal id.PrincipalID) ([]*models.Signature, error)
}

// AccessChecker is the gate the access endpoint consults.
type AccessChecker interface {
	Check(ctx context.Context, groupID id.GroupID, principal id.PrincipalID) (bool, error)
}

// Handler handles the /api/auth endpoints.
type Handler struct {
	logger    *slog.Logger
	sessions  SessionService
	access    AccessChecker
	metrics   *metrics.Metrics
	validator middleware.TokenValidator
}

// New creates a new auth protocol Handler.
func New(
	sessions SessionService,
	access AccessChecker,
	logger *slog.Logger,
	m *metrics.Metrics,
	validator middleware.TokenValidator) *Handler {
	return &Handler{
		logger:    logger,
		sessions:  sessions,
		access:    access,
		metrics:   m,
		validator: validator,
	}
}

// Register mounts the auth routes with their middleware chain.
func (h *Handler) Register(r chi.Router) {
	authRouter := chi.NewRouter()
	authRouter.Use(middleware.Recovery(h.logger))
	authRouter.Use(middleware.RequestID)
	authRouter.Use(middleware.RequestTime)
	authRouter.Use(middleware.Logger(h.logger))
	authRouter.Use(middleware.Timeout(30 * time.Second))
	authRouter.Use(middleware.ContentTypeJSON)
	authRouter.Use(middleware.Latency(h.metrics))
	authRouter.Use(middleware.ClientMetadata)
	authRouter.Use(middleware.RequireAuth(h.validator, h.logger))

	authRouter.Post("/groups/{groupId}/sessions", h.handleCreateSession)
	authRouter.Get("/groups/{groupId}/access", h.handleCheckAccess)
	authRouter.Put("/groups/{groupId}/auth-intent", h.handleUpdateIntent)
	authRouter.Put("/groups/{groupId}/quorum", h.handleSetQuorum)
	authRouter.Get("/sessions/{sessionId}", h.handleGetSession)
	authRouter.Put("/sessions/{sessionId}/sign", h.handleSubmitSignature)
	authRouter.Delete("/sessions/{sessionId}", h.handleCancelSession)
	authRouter.Get("/sessions/{sessionId}/signatures", h.handleListSignatures)

	r.Mount("/api/auth", authRouter)
}

// signRequest carries one biometric submission.
type signRequest struct {
	BiometricTemplateBase64 string `json:"biometricTemplateBase64"`
}

// signResponse reports the outcome of a submission. signedAt is absent when
// the submission recorded nothing (signatureStatus SKIPPED).
type signResponse struct {
	SessionID       id.SessionID            `json:"sessionId"`
	SignatureStatus models.SignatureOutcome `json:"signatureStatus"`
	SessionStatus   models.Status           `json:"sessionStatus"`
	VerifiedCount   int                     `json:"verifiedCount"`
	RequiredCount   int                     `json:"requiredCount"`
	GroupUnlocked   bool                    `json:"groupUnlocked"`
	SignedAt        *time.Time              `json:"signedAt,omitempty"`
}

type quorumRequest struct {
	QuorumK int `json:"quorumK"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	groupID := id.GroupID(chi.URLParam(r, "groupId"))

	session, err := h.sessions.CreateSession(ctx, groupID, principal)
	if err != nil {
		h.writeError(ctx, w, err, "create session")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	sessionID := id.SessionID(chi.URLParam(r, "sessionId"))

	session, err := h.sessions.GetSession(ctx, sessionID, principal)
	if err != nil {
		h.writeError(ctx, w, err, "get session")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) handleSubmitSignature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	sessionID := id.SessionID(chi.URLParam(r, "sessionId"))

	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid sign request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	template, err := base64.StdEncoding.DecodeString(req.BiometricTemplateBase64)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid biometric template encoding"))
		return
	}

	result, err := h.sessions.SubmitSignature(ctx, sessionID, principal, template)
	if err != nil {
		h.writeError(ctx, w, err, "submit signature")
		return
	}

	resp := signResponse{
		SessionID:       result.Session.ID,
		SignatureStatus: result.SignatureStatus,
		SessionStatus:   result.Session.Status,
		VerifiedCount:   result.Session.VerifiedCount,
		RequiredCount:   result.Session.RequiredSignatures,
		GroupUnlocked:   result.GroupUnlocked(),
	}
	if !result.SignedAt.IsZero() {
		resp.SignedAt = &result.SignedAt
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	sessionID := id.SessionID(chi.URLParam(r, "sessionId"))

	session, err := h.sessions.CancelSession(ctx, sessionID, principal)
	if err != nil {
		h.writeError(ctx, w, err, "cancel session")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) handleListSignatures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	sessionID := id.SessionID(chi.URLParam(r, "sessionId"))

	signatures, err := h.sessions.ListSignatures(ctx, sessionID, principal)
	if err != nil {
		h.writeError(ctx, w, err, "list signatures")
		return
	}
	if signatures == nil {
		signatures = []*models.Signature{}
	}
	httputil.WriteJSON(w, http.StatusOK, signatures)
}

// handleCheckAccess responds with a bare JSON boolean; clients poll this
// after every auth-state event.
func (h *Handler) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	groupID := id.GroupID(chi.URLParam(r, "groupId"))

	allowed, err := h.access.Check(ctx, groupID, principal)
	if err != nil {
		h.writeError(ctx, w, err, "check access")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, allowed)
}

func (h *Handler) handleUpdateIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	groupID := id.GroupID(chi.URLParam(r, "groupId"))

	isWaiting, err := strconv.ParseBool(r.URL.Query().Get("isWaiting"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "isWaiting must be true or false"))
		return
	}

	if err := h.sessions.UpdateIntent(ctx, groupID, principal, isWaiting); err != nil {
		h.writeError(ctx, w, err, "update intent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetQuorum(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	groupID := id.GroupID(chi.URLParam(r, "groupId"))

	var req quorumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.sessions.SetQuorum(ctx, groupID, principal, req.QuorumK); err != nil {
		h.writeError(ctx, w, err, "set quorum")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError logs server faults and translates every error through the
// shared envelope. Coded domain errors pass through; anything uncoded is
// masked as internal.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, op string) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "request failed",
			"request_id", requestcontext.RequestID(ctx),
			"op", op,
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
