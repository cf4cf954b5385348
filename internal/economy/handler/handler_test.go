package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"coinledger/internal/economy/handler/mocks"
	"coinledger/internal/economy/models"
	"coinledger/internal/economy/service"
	"coinledger/internal/platform/metrics"
	id "coinledger/pkg/domain"
	dErrors "coinledger/pkg/domain-errors"
	adminmw "coinledger/pkg/platform/middleware/admin"
	authmw "coinledger/pkg/platform/middleware/auth"
	"coinledger/pkg/platform/middleware/ratelimit"
	"coinledger/pkg/testutil"
)

const adminToken = "admin-secret"

// tokenValidator accepts a principal id as the bearer token.
type tokenValidator struct{}

func (tokenValidator) ValidateToken(token string) (*authmw.JWTClaims, error) {
	principal, err := id.ParsePrincipalID(token)
	if err != nil {
		return nil, errors.New("bad token")
	}
	return &authmw.JWTClaims{PrincipalID: principal, TokenID: "jti"}, nil
}

type EconomyHandlerSuite struct {
	suite.Suite
	svc       *mocks.MockService
	router    chi.Router
	principal id.PrincipalID
}

func TestEconomyHandlerSuite(t *testing.T) {
	suite.Run(t, new(EconomyHandlerSuite))
}

func (s *EconomyHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.svc = mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	h := New(s.svc, logger, m, tokenValidator{}, adminToken,
		WithVerifyLimiter(ratelimit.New(0.001, 2)),
		WithRequestTimeout(time.Second),
	)
	s.router = chi.NewRouter()
	h.Register(s.router)
	s.principal = id.PrincipalID(uuid.New())
}

func (s *EconomyHandlerSuite) authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+s.principal.String())
	return req
}

func (s *EconomyHandlerSuite) do(req *http.Request) int {
	return testutil.Do(s.router, req).Code
}

func (s *EconomyHandlerSuite) TestRequiresBearerToken() {
	rr := testutil.Do(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/wallet", nil))
	testutil.AssertError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
}

func (s *EconomyHandlerSuite) TestGetWallet() {
	s.svc.EXPECT().GetWallet(gomock.Any(), s.principal).Return(&models.Wallet{
		Balance:        120,
		LifetimeEarned: 70,
		History:        []*models.LedgerEntry{},
	}, nil)

	rr := testutil.Do(s.router, s.authed(testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/wallet", nil)))
	s.Require().Equal(http.StatusOK, rr.Code)
	body := testutil.Decode[map[string]any](s.T(), rr)
	s.Equal(float64(120), body["balance"])
	s.Equal(float64(70), body["lifetime_earned"])
}

func (s *EconomyHandlerSuite) TestHistory() {
	cursor := models.HistoryCursor{At: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), ID: id.NewEntryID()}

	s.Run("passes limit and cursor", func() {
		s.svc.EXPECT().History(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ any, q models.HistoryQuery) (*models.HistoryPage, error) {
				s.Equal(s.principal, q.Account)
				s.Equal(10, q.Limit)
				s.Require().NotNil(q.Before)
				s.True(cursor.At.Equal(q.Before.At))
				s.Equal(cursor.ID, q.Before.ID)
				return &models.HistoryPage{Entries: []*models.LedgerEntry{}}, nil
			})
		req := testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/wallet/history?limit=10&before="+cursor.Encode(), nil)
		s.Equal(http.StatusOK, s.do(s.authed(req)))
	})

	s.Run("rejects bad limit", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/wallet/history?limit=-1", nil)
		rr := testutil.Do(s.router, s.authed(req))
		testutil.AssertError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})

	s.Run("rejects bad cursor", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/wallet/history?before=not-a-cursor", nil)
		s.Equal(http.StatusBadRequest, s.do(s.authed(req)))
	})
}

func (s *EconomyHandlerSuite) TestTip() {
	recipient := id.PrincipalID(uuid.New())

	s.Run("success", func() {
		s.svc.EXPECT().Tip(gomock.Any(), s.principal, recipient, int64(100)).
			Return(&models.TipResult{NewSenderBalance: 100, Fee: 30, Net: 70}, nil)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/wallet/tip",
			map[string]any{"recipient_id": recipient.String(), "amount": 100})
		rr := testutil.Do(s.router, s.authed(req))
		s.Require().Equal(http.StatusOK, rr.Code)
		body := testutil.Decode[models.TipResult](s.T(), rr)
		s.Equal(models.TipResult{NewSenderBalance: 100, Fee: 30, Net: 70}, body)
	})

	s.Run("insufficient funds maps to 402", func() {
		s.svc.EXPECT().Tip(gomock.Any(), s.principal, recipient, int64(5000)).
			Return(nil, dErrors.New(dErrors.CodeInsufficientFunds, "insufficient funds"))
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/wallet/tip",
			map[string]any{"recipient_id": recipient.String(), "amount": 5000})
		testutil.AssertError(s.T(), testutil.Do(s.router, s.authed(req)), http.StatusPaymentRequired, "insufficient_funds")
	})

	s.Run("malformed recipient never reaches the service", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/wallet/tip",
			map[string]any{"recipient_id": "nope", "amount": 1})
		testutil.AssertError(s.T(), testutil.Do(s.router, s.authed(req)), http.StatusBadRequest, "invalid_input")
	})

	s.Run("unknown fields are rejected", func() {
		req := testutil.NewRawRequest(http.MethodPost, "/v1/wallet/tip", `{"recipient_id":"x","amount":1,"fee":0}`)
		testutil.AssertError(s.T(), testutil.Do(s.router, s.authed(req)), http.StatusBadRequest, "bad_request")
	})
}

func (s *EconomyHandlerSuite) TestPurchase() {
	s.svc.EXPECT().Purchase(gomock.Any(), s.principal, id.ProductID("dark"), int64(50), models.CategoryTheme).
		Return(nil, dErrors.New(dErrors.CodeAlreadyOwned, "already owned"))

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/store/purchase",
		map[string]any{"product_id": "dark", "price": 50, "category": "theme"})
	testutil.AssertError(s.T(), testutil.Do(s.router, s.authed(req)), http.StatusConflict, "already_owned")

	bad := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/store/purchase",
		map[string]any{"product_id": "dark", "price": 50, "category": "hats"})
	testutil.AssertError(s.T(), testutil.Do(s.router, s.authed(bad)), http.StatusBadRequest, "validation_error")
}

func (s *EconomyHandlerSuite) TestSessions() {
	responder := id.PrincipalID(uuid.New())
	sessionID := id.NewSessionID()
	session := &models.Session{ID: sessionID, Initiator: s.principal, Responder: responder, Status: models.SessionStatusActive, IsPaid: true, Cost: 500}

	s.Run("start defaults to paid", func() {
		s.svc.EXPECT().StartSession(gomock.Any(), s.principal, responder, true).Return(session, nil)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/sessions", map[string]any{"responder_id": responder.String()})
		rr := testutil.Do(s.router, s.authed(req))
		s.Require().Equal(http.StatusCreated, rr.Code)
		s.Equal(sessionID, testutil.Decode[models.Session](s.T(), rr).ID)
	})

	s.Run("start free session", func() {
		s.svc.EXPECT().StartSession(gomock.Any(), s.principal, responder, false).
			Return(nil, dErrors.New(dErrors.CodeResponderUnavailable, "listener is busy"))
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/sessions",
			map[string]any{"responder_id": responder.String(), "is_paid": false})
		testutil.AssertError(s.T(), testutil.Do(s.router, s.authed(req)), http.StatusConflict, "responder_unavailable")
	})

	s.Run("get is scoped to the caller", func() {
		s.svc.EXPECT().GetSession(gomock.Any(), s.principal, sessionID).
			Return(nil, dErrors.New(dErrors.CodeForbidden, "not a participant"))
		req := testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/sessions/"+sessionID.String(), nil)
		testutil.AssertError(s.T(), testutil.Do(s.router, s.authed(req)), http.StatusForbidden, "forbidden")
	})

	s.Run("end with reason", func() {
		s.svc.EXPECT().EndSessionAs(gomock.Any(), s.principal, sessionID, models.DisconnectNetworkError).
			Return(&models.EndSessionResult{FinalStatus: models.SessionStatusVoided, Refunded: true, Session: session}, nil)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/sessions/"+sessionID.String()+"/end",
			map[string]any{"reason": "network_error"})
		rr := testutil.Do(s.router, s.authed(req))
		s.Require().Equal(http.StatusOK, rr.Code)
		body := testutil.Decode[map[string]any](s.T(), rr)
		s.Equal("voided", body["status"])
		s.Equal(true, body["refunded"])
	})

	s.Run("end rejects unknown reason", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/sessions/"+sessionID.String()+"/end",
			map[string]any{"reason": "bored"})
		s.Equal(http.StatusBadRequest, s.do(s.authed(req)))
	})

	s.Run("malformed session id", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/sessions/not-a-uuid", nil)
		s.Equal(http.StatusBadRequest, s.do(s.authed(req)))
	})
}

func (s *EconomyHandlerSuite) TestVerifyPayment() {
	s.svc.EXPECT().Packages().Return([]models.CoinPackage{{ID: "pack_medium", Coins: 550}}).AnyTimes()

	s.Run("package resolves coins and ref", func() {
		s.svc.EXPECT().VerifyAndTopUp(gomock.Any(), "order_1|pay_1", "abc", s.principal, int64(550)).
			Return(&models.TopUpResult{NewBalance: 550, Credited: 550}, nil)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/payments/verify", map[string]any{
			"order_id": "order_1", "payment_id": "pay_1", "signature": "abc", "package_id": "pack_medium",
		})
		rr := testutil.Do(s.router, s.authed(req))
		s.Require().Equal(http.StatusOK, rr.Code)
		s.Equal(int64(550), testutil.Decode[models.TopUpResult](s.T(), rr).Credited)
	})

	s.Run("bad signature maps to 401", func() {
		s.svc.EXPECT().VerifyAndTopUp(gomock.Any(), "order_2|pay_2", "bad", s.principal, int64(42)).
			Return(nil, dErrors.New(dErrors.CodeInvalidSignature, "signature mismatch"))
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/payments/verify", map[string]any{
			"order_id": "order_2", "payment_id": "pay_2", "signature": "bad", "amount": 42,
		})
		testutil.AssertError(s.T(), testutil.Do(s.router, s.authed(req)), http.StatusUnauthorized, "invalid_signature")
	})

	s.Run("third request in the burst is throttled", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/payments/verify", map[string]any{
			"order_id": "order_3", "payment_id": "pay_3", "signature": "x", "amount": 1,
		})
		testutil.AssertError(s.T(), testutil.Do(s.router, s.authed(req)), http.StatusTooManyRequests, "rate_limited")
	})
}

func (s *EconomyHandlerSuite) TestAdminRoutes() {
	principal := id.PrincipalID(uuid.New())
	sessionID := id.NewSessionID()

	s.Run("create account uses the default bonus", func() {
		s.svc.EXPECT().WelcomeBonus().Return(int64(100))
		s.svc.EXPECT().CreateAccount(gomock.Any(), principal, int64(100)).
			Return(&models.Account{ID: principal, Balance: 100}, nil)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/accounts", map[string]any{"principal_id": principal.String()})
		req.Header.Set(adminmw.HeaderAdminToken, adminToken)
		rr := testutil.Do(s.router, req)
		s.Require().Equal(http.StatusCreated, rr.Code)
		s.Equal(int64(100), testutil.Decode[AccountResponse](s.T(), rr).Balance)
	})

	s.Run("create account without admin token", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/accounts", map[string]any{"principal_id": principal.String()})
		s.Equal(http.StatusUnauthorized, s.do(s.authed(req)))
	})

	s.Run("timeout callback", func() {
		s.svc.EXPECT().TimeoutSession(gomock.Any(), sessionID).
			Return(&models.EndSessionResult{FinalStatus: models.SessionStatusVoided, Refunded: true}, nil)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/internal/sessions/"+sessionID.String()+"/timeout", nil)
		req.Header.Set(adminmw.HeaderAdminToken, adminToken)
		s.Equal(http.StatusOK, s.do(req))
	})
}

func (s *EconomyHandlerSuite) TestListenerProfile() {
	online := true
	s.svc.EXPECT().UpsertListener(gomock.Any(), s.principal, models.ListenerUpdate{IsOnline: &online}).
		Return(&models.ListenerProfile{PrincipalID: s.principal, IsOnline: true}, nil)

	req := testutil.NewJSONRequest(s.T(), http.MethodPut, "/v1/listeners/me", map[string]any{"is_online": true})
	s.Equal(http.StatusOK, s.do(s.authed(req)))

	empty := testutil.NewJSONRequest(s.T(), http.MethodPut, "/v1/listeners/me", map[string]any{})
	s.Equal(http.StatusBadRequest, s.do(s.authed(empty)))
}

func (s *EconomyHandlerSuite) TestInternalErrorsHideDetail() {
	s.svc.EXPECT().GetListener(gomock.Any(), s.principal).Return(nil, errors.New("pq: connection refused"))
	rr := testutil.Do(s.router, s.authed(testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/listeners/me", nil)))
	testutil.AssertError(s.T(), rr, http.StatusInternalServerError, "internal_error")
	s.NotContains(rr.Body.String(), "connection refused")
}

func TestVerifyPaymentRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  VerifyPaymentRequest
		ok   bool
	}{
		{"package", VerifyPaymentRequest{OrderID: "o", PaymentID: "p", Signature: "s", PackageID: "pack_small"}, true},
		{"amount", VerifyPaymentRequest{OrderID: "o", PaymentID: "p", Signature: "s", Amount: 10}, true},
		{"both", VerifyPaymentRequest{OrderID: "o", PaymentID: "p", Signature: "s", PackageID: "x", Amount: 10}, false},
		{"neither", VerifyPaymentRequest{OrderID: "o", PaymentID: "p", Signature: "s"}, false},
		{"missing signature", VerifyPaymentRequest{OrderID: "o", PaymentID: "p", Amount: 1}, false},
		{"separator in order id", VerifyPaymentRequest{OrderID: "o|x", PaymentID: "p", Signature: "s", Amount: 1}, false},
	}
	for _, tt := range tests {
		testutil.Given(t, tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, service.PaymentRef(tt.req.OrderID, tt.req.PaymentID), tt.req.externalRef())
				return
			}
			assert.Equal(t, dErrors.CodeValidation, dErrors.CodeOf(err))
		})
	}

	testutil.When(t, "package is not in the catalog", func(t *testing.T) {
		req := VerifyPaymentRequest{PackageID: "pack_gold"}
		_, err := req.coins([]models.CoinPackage{{ID: "pack_small", Coins: 100}})
		testutil.Then(t, "it is not found", func(t *testing.T) {
			assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
		})
	})
}
