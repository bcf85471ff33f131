package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/earntube/earntube-system/internal/middleware"
	"github.com/earntube/earntube-system/internal/model"
	"github.com/earntube/earntube-system/internal/service"
)

type stubService struct {
	registerAcc *model.Account
	registerErr error

	authAcc *model.Account
	authErr error

	profileAcc *model.Account
	profileErr error

	submitPaymentErr error

	watchBalance    int64
	watchVideosLeft int64
	watchErr        error

	withdrawBalance int64
	withdrawErr     error

	referralsResp *service.ReferralReport
	referralsErr  error

	pendingResp []model.Account
	pendingErr  error

	withdrawalsResp []service.WithdrawalRecord
	withdrawalsErr  error

	approveErr error

	updateWithdrawalErr error
	updateWithdrawalIn  struct {
		accountID string
		requestID string
		createdAt time.Time
		status    string
	}
}

func (s *stubService) Register(ctx context.Context, username, email, password, referredBy string) (*model.Account, error) {
	return s.registerAcc, s.registerErr
}

func (s *stubService) Authenticate(ctx context.Context, email, password string) (*model.Account, error) {
	return s.authAcc, s.authErr
}

func (s *stubService) Profile(ctx context.Context, id string) (*model.Account, error) {
	return s.profileAcc, s.profileErr
}

func (s *stubService) SubmitPayment(ctx context.Context, id, plan, method, transactionID string) error {
	return s.submitPaymentErr
}

func (s *stubService) WatchVideo(ctx context.Context, id string) (int64, int64, error) {
	return s.watchBalance, s.watchVideosLeft, s.watchErr
}

func (s *stubService) Withdraw(ctx context.Context, id string, amount int64, method, accountNumber, accountTitle string) (int64, error) {
	return s.withdrawBalance, s.withdrawErr
}

func (s *stubService) Referrals(ctx context.Context, id string) (*service.ReferralReport, error) {
	return s.referralsResp, s.referralsErr
}

func (s *stubService) PendingPayments(ctx context.Context) ([]model.Account, error) {
	return s.pendingResp, s.pendingErr
}

func (s *stubService) AllWithdrawals(ctx context.Context) ([]service.WithdrawalRecord, error) {
	return s.withdrawalsResp, s.withdrawalsErr
}

func (s *stubService) ApprovePayment(ctx context.Context, id, status string) error {
	return s.approveErr
}

func (s *stubService) UpdateWithdrawal(ctx context.Context, accountID, requestID string, createdAt time.Time, status string) error {
	s.updateWithdrawalIn.accountID = accountID
	s.updateWithdrawalIn.requestID = requestID
	s.updateWithdrawalIn.createdAt = createdAt
	s.updateWithdrawalIn.status = status
	return s.updateWithdrawalErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	session := middleware.NewSessionResolver("test-secret", false)

	return NewHandler(svc, logger, session)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, prepare func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if prepare != nil {
		prepare(r)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func messageOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp.Message
}

func TestSignup(t *testing.T) {
	svc := &stubService{
		registerAcc: &model.Account{ID: "id-1", Username: "alice", Email: "alice@example.com", Plan: "none"},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	w := doJSON(t, router, http.MethodPost, "/api/auth/signup", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "secret123",
	}, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body %s", w.Code, http.StatusCreated, w.Body.String())
	}

	cookies := w.Result().Cookies()
	names := map[string]bool{}
	for _, c := range cookies {
		names[c.Name] = true
	}
	if !names["token"] || !names["uid"] {
		t.Fatalf("session cookies not set: %+v", cookies)
	}

	if strings.Contains(w.Body.String(), "password") {
		t.Fatalf("signup response leaks password field: %s", w.Body.String())
	}
}

func TestSignupMissingFields(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	w := doJSON(t, router, http.MethodPost, "/api/auth/signup", map[string]string{
		"username": "alice",
	}, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if msg := messageOf(t, w); msg != "All fields are required" {
		t.Fatalf("message = %q", msg)
	}
}

func TestSignupDuplicate(t *testing.T) {
	h := newTestHandler(t, &stubService{registerErr: service.ErrAccountExists})
	router := h.SetupRouter()

	w := doJSON(t, router, http.MethodPost, "/api/auth/signup", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "secret123",
	}, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if msg := messageOf(t, w); msg != "User already exists" {
		t.Fatalf("message = %q", msg)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newTestHandler(t, &stubService{authErr: service.ErrInvalidCredentials})
	router := h.SetupRouter()

	w := doJSON(t, router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong",
	}, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if msg := messageOf(t, w); msg != "Invalid credentials" {
		t.Fatalf("message = %q", msg)
	}
}

func TestLogoutClearsCookies(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	w := doJSON(t, router, http.MethodPost, "/api/auth/logout", nil, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if msg := messageOf(t, w); msg != "Logged out" {
		t.Fatalf("message = %q", msg)
	}
	for _, c := range w.Result().Cookies() {
		if c.MaxAge != -1 {
			t.Fatalf("cookie %q not cleared", c.Name)
		}
	}
}

func TestProfileRequiresSession(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	w := doJSON(t, router, http.MethodGet, "/api/user/profile", nil, nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if msg := messageOf(t, w); msg != "No session" {
		t.Fatalf("message = %q", msg)
	}
}

func TestProfileWithToken(t *testing.T) {
	svc := &stubService{
		profileAcc: &model.Account{ID: "id-1", Username: "alice", Email: "alice@example.com", Balance: 40},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	token, err := h.session.IssueToken("id-1")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	w := doJSON(t, router, http.MethodGet, "/api/user/profile", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "token", Value: token})
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", w.Code, http.StatusOK, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "alice") {
		t.Fatalf("profile body = %s", w.Body.String())
	}
}

func TestWatchVideo(t *testing.T) {
	svc := &stubService{watchBalance: 80, watchVideosLeft: 23}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	token, err := h.session.IssueToken("id-1")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	auth := func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "token", Value: token})
	}

	w := doJSON(t, router, http.MethodPost, "/api/user/watch-video", nil, auth)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Message    string `json:"message"`
		Balance    int64  `json:"balance"`
		VideosLeft int64  `json:"videosLeft"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message != "Earning added successfully" || resp.Balance != 80 || resp.VideosLeft != 23 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	svc.watchErr = service.ErrLimitReached
	w = doJSON(t, router, http.MethodPost, "/api/user/watch-video", nil, auth)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if msg := messageOf(t, w); msg != "Daily video limit reached" {
		t.Fatalf("message = %q", msg)
	}
}

func TestWithdrawWithBodyUserID(t *testing.T) {
	svc := &stubService{withdrawBalance: 500}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	w := doJSON(t, router, http.MethodPost, "/api/user/withdraw", map[string]any{
		"userId":        "id-1",
		"amount":        500,
		"method":        "easypaisa",
		"accountNumber": "0300-1234567",
		"accountTitle":  "Alice",
	}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", w.Code, http.StatusOK, w.Body.String())
	}
	if msg := messageOf(t, w); msg != "Withdrawal request submitted" {
		t.Fatalf("message = %q", msg)
	}
}

func TestWithdrawBelowMinimum(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	w := doJSON(t, router, http.MethodPost, "/api/user/withdraw", map[string]any{
		"userId":        "id-1",
		"amount":        499,
		"method":        "easypaisa",
		"accountNumber": "0300-1234567",
		"accountTitle":  "Alice",
	}, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if msg := messageOf(t, w); msg != "Minimum withdrawal amount is Rs. 500" {
		t.Fatalf("message = %q", msg)
	}
}

func TestWithdrawWithoutIdentity(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	w := doJSON(t, router, http.MethodPost, "/api/user/withdraw", map[string]any{
		"amount": 500,
	}, nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if msg := messageOf(t, w); msg != "No session" {
		t.Fatalf("message = %q", msg)
	}
}

func TestSubmitPaymentWithHeaderID(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	w := doJSON(t, router, http.MethodPost, "/api/payment/submit", map[string]string{
		"plan":          "gold",
		"method":        "easypaisa",
		"transactionId": "TX-1",
	}, func(r *http.Request) {
		r.Header.Set("X-User-Id", "id-1")
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", w.Code, http.StatusOK, w.Body.String())
	}
	if msg := messageOf(t, w); msg != "Payment submitted successfully" {
		t.Fatalf("message = %q", msg)
	}
}

func TestApprovePayment(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	w := doJSON(t, router, http.MethodPost, "/api/admin/approve", map[string]string{
		"userId": "id-1",
		"status": "approved",
	}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", w.Code, http.StatusOK, w.Body.String())
	}
	if msg := messageOf(t, w); msg != "User approved successfully" {
		t.Fatalf("message = %q", msg)
	}

	w = doJSON(t, router, http.MethodPost, "/api/admin/approve", map[string]string{
		"userId": "id-1",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if msg := messageOf(t, w); msg != "Missing data" {
		t.Fatalf("message = %q", msg)
	}
}

func TestListWithdrawals(t *testing.T) {
	svc := &stubService{
		withdrawalsResp: []service.WithdrawalRecord{
			{UserID: "id-1", Username: "alice", RequestID: "req-1", Amount: 500, Status: model.WithdrawalStatusPending},
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	w := doJSON(t, router, http.MethodGet, "/api/admin/withdrawals", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var records []service.WithdrawalRecord
	if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(records) != 1 || records[0].RequestID != "req-1" {
		t.Fatalf("records = %+v", records)
	}
}

func TestUpdateWithdrawalByTimestamp(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := doJSON(t, router, http.MethodPost, "/api/admin/withdrawals-update", map[string]string{
		"userId":    "id-1",
		"createdAt": createdAt.Format(time.RFC3339),
		"status":    "completed",
	}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", w.Code, http.StatusOK, w.Body.String())
	}
	if msg := messageOf(t, w); msg != "Withdrawal updated" {
		t.Fatalf("message = %q", msg)
	}
	if !svc.updateWithdrawalIn.createdAt.Equal(createdAt) {
		t.Fatalf("createdAt passed to service = %v, want %v", svc.updateWithdrawalIn.createdAt, createdAt)
	}
	if svc.updateWithdrawalIn.status != "completed" {
		t.Fatalf("status passed to service = %q", svc.updateWithdrawalIn.status)
	}
}

func TestUpdateWithdrawalNotFound(t *testing.T) {
	h := newTestHandler(t, &stubService{updateWithdrawalErr: service.ErrWithdrawalNotFound})
	router := h.SetupRouter()

	w := doJSON(t, router, http.MethodPost, "/api/admin/withdrawals-update", map[string]string{
		"userId":    "id-1",
		"requestId": "req-404",
		"status":    "approved",
	}, nil)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if msg := messageOf(t, w); msg != "Withdrawal request not found" {
		t.Fatalf("message = %q", msg)
	}
}
