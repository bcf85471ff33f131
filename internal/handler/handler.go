// Package handler содержит HTTP-обработчики API платформы earntube.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/earntube/earntube-system/internal/middleware"
	"github.com/earntube/earntube-system/internal/model"
	"github.com/earntube/earntube-system/internal/service"
	"github.com/earntube/earntube-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Register(ctx context.Context, username, email, password, referredBy string) (*model.Account, error)
	Authenticate(ctx context.Context, email, password string) (*model.Account, error)
	Profile(ctx context.Context, id string) (*model.Account, error)
	SubmitPayment(ctx context.Context, id, plan, method, transactionID string) error
	WatchVideo(ctx context.Context, id string) (int64, int64, error)
	Withdraw(ctx context.Context, id string, amount int64, method, accountNumber, accountTitle string) (int64, error)
	Referrals(ctx context.Context, id string) (*service.ReferralReport, error)
	PendingPayments(ctx context.Context) ([]model.Account, error)
	AllWithdrawals(ctx context.Context) ([]service.WithdrawalRecord, error)
	ApprovePayment(ctx context.Context, id, status string) error
	UpdateWithdrawal(ctx context.Context, accountID, requestID string, createdAt time.Time, status string) error
}

// Handler реализует HTTP-обработчики API платформы.
type Handler struct {
	service Service
	logger  *zap.Logger
	session *middleware.SessionResolver
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, session *middleware.SessionResolver) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
		session: session,
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func (h *Handler) writeMessage(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, messageResponse{Message: msg})
}

// resolveSession определяет личность вызывающего с учётом идентификатора из
// тела запроса. При отказе пишет ответ и возвращает false.
func (h *Handler) resolveSession(w http.ResponseWriter, r *http.Request, bodyUserID string) (string, bool) {
	id, err := h.session.Resolve(r, bodyUserID)
	if err != nil {
		h.writeMessage(w, http.StatusUnauthorized, middleware.SessionErrorMessage(err))
		return "", false
	}
	return id, true
}

type signupRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	ReferredBy string `json:"referredBy"`
}

type accountResponse struct {
	User model.PublicAccount `json:"user"`
}

// Signup регистрирует новый аккаунт и открывает сессию.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		h.writeMessage(w, http.StatusBadRequest, "All fields are required")
		return
	}

	acc, err := h.service.Register(r.Context(), req.Username, req.Email, req.Password, req.ReferredBy)
	if err != nil {
		if errors.Is(err, service.ErrAccountExists) {
			h.writeMessage(w, http.StatusBadRequest, "User already exists")
			return
		}
		h.logger.Error("signup error", zap.Error(err))
		h.writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	h.openSession(w, acc)
	h.writeJSON(w, http.StatusCreated, accountResponse{User: acc.Public()})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию и открывает сессию.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}

	acc, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.writeMessage(w, http.StatusBadRequest, "Invalid credentials")
			return
		}
		h.logger.Error("login error", zap.Error(err))
		h.writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	h.openSession(w, acc)
	h.writeJSON(w, http.StatusOK, accountResponse{User: acc.Public()})
}

// openSession подписывает токен и устанавливает cookie сессии.
func (h *Handler) openSession(w http.ResponseWriter, acc *model.Account) {
	token, err := h.session.IssueToken(acc.ID)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err), zap.String("accountID", acc.ID))
		return
	}
	h.session.SetSessionCookies(w, token, acc.ID)
}

// Logout закрывает сессию.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.session.ClearSessionCookies(w)
	h.writeMessage(w, http.StatusOK, "Logged out")
}

// Profile возвращает безопасную проекцию текущего аккаунта.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountIDFromContext(r.Context())
	if !ok {
		h.writeMessage(w, http.StatusUnauthorized, "No session")
		return
	}

	acc, err := h.service.Profile(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			h.writeMessage(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("profile error", zap.Error(err), zap.String("accountID", accountID))
		h.writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	h.writeJSON(w, http.StatusOK, accountResponse{User: acc.Public()})
}

type submitPaymentRequest struct {
	UserID        string `json:"userId"`
	Plan          string `json:"plan"`
	Method        string `json:"method"`
	TransactionID string `json:"transactionId"`
}

// SubmitPayment принимает платёжное подтверждение покупки тарифа.
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req submitPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}

	accountID, ok := h.resolveSession(w, r, req.UserID)
	if !ok {
		return
	}

	err := h.service.SubmitPayment(r.Context(), accountID, req.Plan, req.Method, req.TransactionID)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			h.writeMessage(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("submit payment error", zap.Error(err), zap.String("accountID", accountID))
		h.writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	h.writeMessage(w, http.StatusOK, "Payment submitted successfully")
}

type watchVideoResponse struct {
	Message    string `json:"message"`
	Balance    int64  `json:"balance"`
	VideosLeft int64  `json:"videosLeft"`
}

// WatchVideo начисляет выплату за один просмотр видео.
func (h *Handler) WatchVideo(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountIDFromContext(r.Context())
	if !ok {
		h.writeMessage(w, http.StatusUnauthorized, "No session")
		return
	}

	balance, videosLeft, err := h.service.WatchVideo(r.Context(), accountID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAccountNotFound):
			h.writeMessage(w, http.StatusNotFound, "User not found")
		case errors.Is(err, service.ErrLimitReached):
			h.writeMessage(w, http.StatusBadRequest, "Daily video limit reached")
		default:
			h.logger.Error("watch video error", zap.Error(err), zap.String("accountID", accountID))
			h.writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, watchVideoResponse{
		Message:    "Earning added successfully",
		Balance:    balance,
		VideosLeft: videosLeft,
	})
}

type withdrawRequest struct {
	UserID        string      `json:"userId"`
	Amount        json.Number `json:"amount"`
	Method        string      `json:"method"`
	AccountNumber string      `json:"accountNumber"`
	AccountTitle  string      `json:"accountTitle"`
}

type withdrawResponse struct {
	Message string `json:"message"`
	Balance int64  `json:"balance"`
}

// Withdraw создаёт заявку на вывод средств.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}

	accountID, ok := h.resolveSession(w, r, req.UserID)
	if !ok {
		return
	}

	amount, valid := validation.ParseWithdrawalAmount(req.Amount)
	if !valid {
		h.writeMessage(w, http.StatusBadRequest, "Minimum withdrawal amount is Rs. 500")
		return
	}
	if req.AccountNumber == "" || req.AccountTitle == "" || req.Method == "" {
		h.writeMessage(w, http.StatusBadRequest, "All fields are required")
		return
	}

	balance, err := h.service.Withdraw(r.Context(), accountID, amount, req.Method, req.AccountNumber, req.AccountTitle)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAccountNotFound):
			h.writeMessage(w, http.StatusNotFound, "User not found")
		case errors.Is(err, service.ErrInvalidAmount):
			h.writeMessage(w, http.StatusBadRequest, "Minimum withdrawal amount is Rs. 500")
		case errors.Is(err, service.ErrInsufficientReferrals):
			h.writeMessage(w, http.StatusBadRequest, "At least 1 referral required")
		case errors.Is(err, service.ErrInsufficientBalance):
			h.writeMessage(w, http.StatusBadRequest, "Insufficient balance")
		default:
			h.logger.Error("withdraw error", zap.Error(err), zap.String("accountID", accountID))
			h.writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, withdrawResponse{
		Message: "Withdrawal request submitted",
		Balance: balance,
	})
}

// Referrals возвращает сводку по приглашённым аккаунтам.
func (h *Handler) Referrals(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountIDFromContext(r.Context())
	if !ok {
		h.writeMessage(w, http.StatusUnauthorized, "No session")
		return
	}

	report, err := h.service.Referrals(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			h.writeMessage(w, http.StatusNotFound, "User not found")
			return
		}
		h.logger.Error("referrals error", zap.Error(err), zap.String("accountID", accountID))
		h.writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// ListPendingPayments возвращает аккаунты с платежами, требующими проверки.
func (h *Handler) ListPendingPayments(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.PendingPayments(r.Context())
	if err != nil {
		h.logger.Error("list pending payments error", zap.Error(err))
		h.writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	resp := make([]model.PublicAccount, 0, len(accounts))
	for i := range accounts {
		resp = append(resp, accounts[i].Public())
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type approvePaymentRequest struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// ApprovePayment применяет решение администратора по платежу.
func (h *Handler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	var req approvePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.UserID == "" || req.Status == "" {
		h.writeMessage(w, http.StatusBadRequest, "Missing data")
		return
	}

	err := h.service.ApprovePayment(r.Context(), req.UserID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidStatus):
			h.writeMessage(w, http.StatusBadRequest, "Invalid status")
		case errors.Is(err, service.ErrAccountNotFound):
			h.writeMessage(w, http.StatusNotFound, "User not found")
		default:
			h.logger.Error("approve payment error", zap.Error(err), zap.String("userID", req.UserID))
			h.writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	h.writeMessage(w, http.StatusOK, "User "+req.Status+" successfully")
}

// ListWithdrawals возвращает заявки всех аккаунтов, новые первыми.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.AllWithdrawals(r.Context())
	if err != nil {
		h.logger.Error("list withdrawals error", zap.Error(err))
		h.writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if records == nil {
		records = []service.WithdrawalRecord{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

type updateWithdrawalRequest struct {
	UserID    string `json:"userId"`
	RequestID string `json:"requestId"`
	CreatedAt string `json:"createdAt"`
	Status    string `json:"status"`
}

// UpdateWithdrawal изменяет статус одной заявки на вывод средств.
func (h *Handler) UpdateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req updateWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.UserID == "" || req.Status == "" || (req.RequestID == "" && req.CreatedAt == "") {
		h.writeMessage(w, http.StatusBadRequest, "Missing data")
		return
	}

	var createdAt time.Time
	if req.RequestID == "" {
		var err error
		createdAt, err = time.Parse(time.RFC3339, req.CreatedAt)
		if err != nil {
			h.writeMessage(w, http.StatusBadRequest, "Invalid createdAt")
			return
		}
	}

	err := h.service.UpdateWithdrawal(r.Context(), req.UserID, req.RequestID, createdAt, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidStatus):
			h.writeMessage(w, http.StatusBadRequest, "Invalid status")
		case errors.Is(err, service.ErrAccountNotFound):
			h.writeMessage(w, http.StatusNotFound, "User not found")
		case errors.Is(err, service.ErrWithdrawalNotFound):
			h.writeMessage(w, http.StatusNotFound, "Withdrawal request not found")
		default:
			h.logger.Error("update withdrawal error", zap.Error(err), zap.String("userID", req.UserID))
			h.writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	h.writeMessage(w, http.StatusOK, "Withdrawal updated")
}
