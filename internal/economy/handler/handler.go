package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"coinledger/internal/economy/models"
	"coinledger/internal/platform/metrics"
	"coinledger/internal/platform/middleware"
	id "coinledger/pkg/domain"
	dErrors "coinledger/pkg/domain-errors"
	"coinledger/pkg/platform/httputil"
	adminmw "coinledger/pkg/platform/middleware/admin"
	authmw "coinledger/pkg/platform/middleware/auth"
	"coinledger/pkg/platform/middleware/metadata"
	"coinledger/pkg/platform/middleware/ratelimit"
	request "coinledger/pkg/platform/middleware/request"
	"coinledger/pkg/platform/middleware/requesttime"
	"coinledger/pkg/requestcontext"
)

// Service defines the economy operations exposed over HTTP.
type Service interface {
	WelcomeBonus() int64
	Packages() []models.CoinPackage
	CreateAccount(ctx context.Context, principal id.PrincipalID, welcomeBonus int64) (*models.Account, error)
	GetWallet(ctx context.Context, principal id.PrincipalID) (*models.Wallet, error)
	History(ctx context.Context, q models.HistoryQuery) (*models.HistoryPage, error)
	Tip(ctx context.Context, sender, recipient id.PrincipalID, amount int64) (*models.TipResult, error)
	Purchase(ctx context.Context, buyer id.PrincipalID, product id.ProductID, price int64, category models.Category) (*models.PurchaseResult, error)
	StartSession(ctx context.Context, initiator, responder id.PrincipalID, isPaid bool) (*models.Session, error)
	GetSession(ctx context.Context, actor id.PrincipalID, sessionID id.SessionID) (*models.Session, error)
	EndSessionAs(ctx context.Context, actor id.PrincipalID, sessionID id.SessionID, reason models.DisconnectReason) (*models.EndSessionResult, error)
	TimeoutSession(ctx context.Context, sessionID id.SessionID) (*models.EndSessionResult, error)
	VerifyAndTopUp(ctx context.Context, externalRef, signature string, principal id.PrincipalID, amount int64) (*models.TopUpResult, error)
	UpsertListener(ctx context.Context, principal id.PrincipalID, update models.ListenerUpdate) (*models.ListenerProfile, error)
	GetListener(ctx context.Context, principal id.PrincipalID) (*models.ListenerProfile, error)
}

// Handler serves the wallet, store, session and payment endpoints.
type Handler struct {
	svc            Service
	logger         *slog.Logger
	metrics        *metrics.Metrics
	jwtValidator   authmw.JWTValidator
	adminToken     string
	verifyLimiter  *ratelimit.Limiter
	requestTimeout time.Duration
}

type Option func(*Handler)

// WithRequestTimeout bounds every request served by the handler.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

// WithVerifyLimiter throttles payment verification per principal.
func WithVerifyLimiter(l *ratelimit.Limiter) Option {
	return func(h *Handler) {
		h.verifyLimiter = l
	}
}

func New(svc Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator authmw.JWTValidator, adminToken string, opts ...Option) *Handler {
	h := &Handler{
		svc:            svc,
		logger:         logger,
		metrics:        m,
		jwtValidator:   jwtValidator,
		adminToken:     adminToken,
		requestTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.verifyLimiter == nil {
		h.verifyLimiter = ratelimit.New(1, 5)
	}
	return h
}

// Register mounts the economy routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(request.Recovery(h.logger))
		r.Use(request.RequestID)
		r.Use(metadata.ClientMetadata)
		r.Use(requesttime.Middleware)
		r.Use(request.Logger(h.logger))
		r.Use(request.Timeout(h.requestTimeout))
		r.Use(request.ContentTypeJSON)
		r.Use(middleware.LatencyMiddleware(h.metrics))

		requireAdmin := adminmw.RequireAdminToken(h.adminToken, h.logger)

		r.Route("/v1", func(r chi.Router) {
			r.With(requireAdmin).Post("/accounts", h.handleCreateAccount)
			r.Get("/payments/packages", h.handlePackages)

			r.Group(func(r chi.Router) {
				r.Use(authmw.RequireAuth(h.jwtValidator, h.logger))
				r.Get("/wallet", h.handleGetWallet)
				r.Get("/wallet/history", h.handleHistory)
				r.Post("/wallet/tip", h.handleTip)
				r.Post("/store/purchase", h.handlePurchase)
				r.Post("/sessions", h.handleStartSession)
				r.Get("/sessions/{id}", h.handleGetSession)
				r.Post("/sessions/{id}/end", h.handleEndSession)
				r.With(h.verifyLimiter.Middleware(h.logger)).Post("/payments/verify", h.handleVerifyPayment)
				r.Get("/listeners/me", h.handleGetListener)
				r.Put("/listeners/me", h.handleUpsertListener)
			})
		})

		r.With(requireAdmin).Post("/internal/sessions/{id}/timeout", h.handleTimeoutSession)
	})
}

func (h *Handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateAccountRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	bonus := h.svc.WelcomeBonus()
	if req.WelcomeBonus != nil {
		bonus = *req.WelcomeBonus
	}

	acct, err := h.svc.CreateAccount(ctx, req.principal, bonus)
	if err != nil {
		h.fail(ctx, w, "create account", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toAccountResponse(acct))
}

func (h *Handler) handlePackages(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, PackagesResponse{Packages: h.svc.Packages()})
}

func (h *Handler) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wallet, err := h.svc.GetWallet(ctx, requestcontext.PrincipalID(ctx))
	if err != nil {
		h.fail(ctx, w, "get wallet", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wallet)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := models.HistoryQuery{Account: requestcontext.PrincipalID(ctx)}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer"))
			return
		}
		q.Limit = limit
	}
	if raw := r.URL.Query().Get("before"); raw != "" {
		cursor, err := models.ParseHistoryCursor(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		q.Before = cursor
	}

	page, err := h.svc.History(ctx, q)
	if err != nil {
		h.fail(ctx, w, "history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) handleTip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[TipRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	result, err := h.svc.Tip(ctx, requestcontext.PrincipalID(ctx), req.recipient, req.Amount)
	if err != nil {
		h.fail(ctx, w, "tip", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[PurchaseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	result, err := h.svc.Purchase(ctx, requestcontext.PrincipalID(ctx), req.product, req.Price, req.category)
	if err != nil {
		h.fail(ctx, w, "purchase", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[StartSessionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	session, err := h.svc.StartSession(ctx, requestcontext.PrincipalID(ctx), req.responder, req.paid())
	if err != nil {
		h.fail(ctx, w, "start session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid session id"))
		return
	}
	session, err := h.svc.GetSession(ctx, requestcontext.PrincipalID(ctx), sessionID)
	if err != nil {
		h.fail(ctx, w, "get session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	sessionID, err := id.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid session id"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[EndSessionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	result, err := h.svc.EndSessionAs(ctx, requestcontext.PrincipalID(ctx), sessionID, req.reason)
	if err != nil {
		h.fail(ctx, w, "end session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleTimeoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid session id"))
		return
	}
	result, err := h.svc.TimeoutSession(ctx, sessionID)
	if err != nil {
		h.fail(ctx, w, "timeout session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyPaymentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	amount, err := req.coins(h.svc.Packages())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.svc.VerifyAndTopUp(ctx, req.externalRef(), req.Signature, requestcontext.PrincipalID(ctx), amount)
	if err != nil {
		h.fail(ctx, w, "verify payment", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetListener(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profile, err := h.svc.GetListener(ctx, requestcontext.PrincipalID(ctx))
	if err != nil {
		h.fail(ctx, w, "get listener", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleUpsertListener(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ListenerRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	profile, err := h.svc.UpsertListener(ctx, requestcontext.PrincipalID(ctx), req.update())
	if err != nil {
		h.fail(ctx, w, "upsert listener", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

// fail logs err at a level matching its class and writes the response.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	attrs := []any{
		"request_id", request.GetRequestID(ctx),
		"op", op,
		"error", err,
	}
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", attrs...)
	} else {
		h.logger.WarnContext(ctx, "request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}
