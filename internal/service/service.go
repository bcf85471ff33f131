// Package service реализует бизнес-правила платформы earntube: тарифы,
// дневные квоты просмотров, начисления, рефералы и вывод средств.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/earntube/earntube-system/internal/model"
	"github.com/earntube/earntube-system/internal/storage"
	"github.com/earntube/earntube-system/internal/validation"
)

// dateLayout — формат календарной даты последнего просмотра.
const dateLayout = "2006-01-02"

// quotaResetInterval — период сброса дневной квоты: полные сутки от момента
// последнего сброса, без привязки к календарным суткам.
const quotaResetInterval = 24 * time.Hour

// bcryptCost соответствует стоимости хеширования исходной системы.
const bcryptCost = 10

// ErrAccountExists возвращается при регистрации с занятым username или email.
var (
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidCredentials возвращается при неверной паре email/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotFound возвращается, если аккаунт не найден.
	ErrAccountNotFound = errors.New("account not found")
	// ErrLimitReached возвращается при исчерпанной дневной квоте просмотров.
	ErrLimitReached = errors.New("daily video limit reached")
	// ErrInvalidAmount возвращается для суммы вывода меньше минимальной.
	ErrInvalidAmount = errors.New("invalid withdrawal amount")
	// ErrInsufficientBalance возвращается, когда сумма вывода превышает баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientReferrals возвращается при выводе без успешных рефералов.
	ErrInsufficientReferrals = errors.New("at least 1 referral required")
	// ErrInvalidStatus возвращается для статуса вне допустимого множества.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrWithdrawalNotFound возвращается, если заявка на вывод не найдена.
	ErrWithdrawalNotFound = errors.New("withdrawal request not found")
)

// Store описывает контракт доступа к хранилищу аккаунтов, используемый сервисом.
// Выбор бэкенда скрыт за этим контрактом: бизнес-правила не знают, какой
// бэкенд обслуживает операцию.
type Store interface {
	FindOne(ctx context.Context, q storage.Query) (*model.Account, error)
	FindByID(ctx context.Context, id string) (*model.Account, error)
	Find(ctx context.Context, q storage.Query) ([]model.Account, error)
	Create(ctx context.Context, acc model.Account) (*model.Account, error)
	UpdateByID(ctx context.Context, id string, u storage.Update) (*model.Account, error)
}

// Service содержит бизнес-логику платформы.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService создаёт сервис поверх указанного хранилища.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Register создаёт новый аккаунт. Уникальность username и email проверяется
// до вставки, поскольку локальный бэкенд ограничение уникальности не
// обеспечивает; сетевой бэкенд дополнительно страхует уникальным индексом.
func (s *Service) Register(ctx context.Context, username, email, password, referredBy string) (*model.Account, error) {
	byEmail, err := s.store.FindOne(ctx, storage.Query{"email": email})
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	byUsername, err := s.store.FindOne(ctx, storage.Query{"username": username})
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if byEmail != nil || byUsername != nil {
		return nil, ErrAccountExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	acc, err := s.store.Create(ctx, model.Account{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		ReferredBy:   referredBy,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	return acc, nil
}

// Authenticate проверяет пару email/пароль и возвращает аккаунт.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.Account, error) {
	acc, err := s.store.FindOne(ctx, storage.Query{"email": email})
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if acc == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return acc, nil
}

// Profile возвращает аккаунт по идентификатору.
func (s *Service) Profile(ctx context.Context, id string) (*model.Account, error) {
	acc, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	return acc, nil
}

// SubmitPayment фиксирует покупку тарифа: тариф и платёжное подтверждение
// перезаписываются безусловно, дневная квота устанавливается в лимит нового
// тарифа. Любое предыдущее состояние — отклонённый или уже одобренный платёж —
// возвращается в ожидание проверки.
func (s *Service) SubmitPayment(ctx context.Context, id, plan, method, transactionID string) error {
	planKey := model.NormalizePlan(plan)
	cfg := model.PlanFor(plan)
	now := time.Now()

	acc, err := s.store.UpdateByID(ctx, id, storage.Update{
		Set: map[string]any{
			"plan":             plan,
			"videosLeft":       cfg.Limit,
			"lastVideoResetAt": now,
			"lastVideoPlan":    planKey,
			"paymentProof": model.PaymentProof{
				Method:        method,
				TransactionID: transactionID,
				Date:          now,
				Status:        model.PaymentStatusPending,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("submit payment: %w", err)
	}
	if acc == nil {
		return ErrAccountNotFound
	}
	return nil
}

// lastResetTime возвращает момент последнего сброса квоты: основное поле
// lastVideoResetAt либо, для старых записей, lastWatchDate. Старые записи
// могли сохранить как календарную дату, так и полную отметку времени.
func lastResetTime(acc *model.Account) *time.Time {
	if acc.LastVideoResetAt != nil && !acc.LastVideoResetAt.IsZero() {
		return acc.LastVideoResetAt
	}
	if acc.LastWatchDate != "" {
		for _, layout := range []string{dateLayout, time.RFC3339Nano, time.RFC3339} {
			if t, err := time.Parse(layout, acc.LastWatchDate); err == nil {
				return &t
			}
		}
	}
	return nil
}

// WatchVideo начисляет выплату за один просмотр. Сброс дневной квоты
// вычисляется на каждом вызове: квота обновляется при смене тарифа,
// отсутствии валидной отметки сброса, истёкших сутках с последнего сброса,
// а для практически безлимитных тарифов — при известном испорченном
// состоянии с исчерпанной квотой. Значение квоты вне диапазона [0, лимит]
// самовосстанавливается. Возвращает новый баланс и остаток квоты.
func (s *Service) WatchVideo(ctx context.Context, id string) (int64, int64, error) {
	acc, err := s.store.FindByID(ctx, id)
	if err != nil {
		return 0, 0, fmt.Errorf("find account: %w", err)
	}
	if acc == nil {
		return 0, 0, ErrAccountNotFound
	}

	planKey := model.NormalizePlan(acc.Plan)
	cfg := model.PlanFor(acc.Plan)
	now := time.Now()

	videosLeft := acc.VideosLeft
	if cfg.Limit > 0 && (videosLeft < 0 || videosLeft > cfg.Limit) {
		videosLeft = cfg.Limit
	}

	lastReset := lastResetTime(acc)
	planChanged := acc.LastVideoPlan != planKey
	needsRepair := cfg.Limit >= 1000 && acc.VideosLeft <= 0
	needsReset := needsRepair || planChanged || lastReset == nil ||
		now.Sub(*lastReset) >= quotaResetInterval

	if needsReset {
		videosLeft = cfg.Limit
		if _, err := s.store.UpdateByID(ctx, id, storage.Update{
			Set: map[string]any{
				"videosLeft":       videosLeft,
				"lastVideoResetAt": now,
				"lastWatchDate":    now.Format(dateLayout),
				"lastVideoPlan":    planKey,
			},
		}); err != nil {
			return 0, 0, fmt.Errorf("reset quota: %w", err)
		}
	} else if videosLeft != acc.VideosLeft {
		// Восстановленное значение сохраняется до начисления: инкремент
		// ниже применяется к хранимому состоянию, и без записи испорченная
		// квота пережила бы любое число просмотров.
		if _, err := s.store.UpdateByID(ctx, id, storage.Update{
			Set: map[string]any{"videosLeft": videosLeft},
		}); err != nil {
			return 0, 0, fmt.Errorf("repair quota: %w", err)
		}
	}

	if videosLeft <= 0 {
		return 0, 0, ErrLimitReached
	}

	// Начисление и списание квоты — одним обновлением, чтобы сетевой бэкенд
	// применил его атомарно.
	updated, err := s.store.UpdateByID(ctx, id, storage.Update{
		Set: map[string]any{
			"lastWatchDate": now.Format(dateLayout),
			"lastVideoPlan": planKey,
		},
		Inc: map[string]int64{
			"balance":    cfg.Pay,
			"videosLeft": -1,
		},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("apply earning: %w", err)
	}
	if updated == nil {
		return 0, 0, ErrAccountNotFound
	}

	return updated.Balance, updated.VideosLeft, nil
}

// Withdraw создаёт заявку на вывод средств. Требования: сумма не меньше
// минимальной, хотя бы один реферал (считается живым запросом, а не по
// кэшированному счётчику) и достаточный баланс. Баланс списывается сразу,
// заявка добавляется в статусе pending.
func (s *Service) Withdraw(ctx context.Context, id string, amount int64, method, accountNumber, accountTitle string) (int64, error) {
	if amount < validation.MinWithdrawalAmount {
		return 0, ErrInvalidAmount
	}

	acc, err := s.store.FindByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("find account: %w", err)
	}
	if acc == nil {
		return 0, ErrAccountNotFound
	}

	referralCount := acc.ReferralCount
	referred, err := s.store.Find(ctx, storage.Query{"referredBy": acc.ID})
	if err != nil {
		// Живой подсчёт не удался — остаёмся на кэшированном значении.
		s.logger.Warn("live referral count failed", zap.Error(err), zap.String("accountID", acc.ID))
	} else {
		referralCount = int64(len(referred))
	}

	if referralCount < 1 {
		return 0, ErrInsufficientReferrals
	}
	if acc.Balance < amount {
		return 0, ErrInsufficientBalance
	}

	newBalance := acc.Balance - amount
	requests := append([]model.WithdrawalRequest{}, acc.WithdrawalRequests...)
	requests = append(requests, model.WithdrawalRequest{
		ID:            uuid.NewString(),
		Amount:        amount,
		Method:        method,
		AccountNumber: accountNumber,
		AccountTitle:  accountTitle,
		Status:        model.WithdrawalStatusPending,
		CreatedAt:     time.Now(),
	})

	updated, err := s.store.UpdateByID(ctx, id, storage.Update{
		Set: map[string]any{
			"balance":            newBalance,
			"withdrawalRequests": requests,
			"referralCount":      referralCount,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("save withdrawal: %w", err)
	}
	if updated == nil {
		return 0, ErrAccountNotFound
	}

	return updated.Balance, nil
}

// Referral описывает реферала в безопасной проекции.
type Referral struct {
	ID            string              `json:"id"`
	Username      string              `json:"username"`
	Plan          string              `json:"plan"`
	IsApproved    bool                `json:"isApproved"`
	PaymentStatus model.PaymentStatus `json:"paymentStatus"`
}

// ReferralReport — сводка по рефералам аккаунта.
type ReferralReport struct {
	Referrals []Referral `json:"referrals"`
	Total     int        `json:"total"`
	Approved  int        `json:"approved"`
}

// Referrals возвращает список приглашённых аккаунтов со счётчиками.
func (s *Service) Referrals(ctx context.Context, id string) (*ReferralReport, error) {
	acc, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}

	referred, err := s.store.Find(ctx, storage.Query{"referredBy": acc.ID})
	if err != nil {
		return nil, fmt.Errorf("find referrals: %w", err)
	}

	report := &ReferralReport{Referrals: make([]Referral, 0, len(referred))}
	for _, r := range referred {
		status := r.PaymentProof.Status
		if status == "" {
			status = model.PaymentStatusNone
		}
		report.Referrals = append(report.Referrals, Referral{
			ID:            r.ID,
			Username:      r.Username,
			Plan:          r.Plan,
			IsApproved:    r.IsApproved,
			PaymentStatus: status,
		})
		if r.IsApproved {
			report.Approved++
		}
	}
	report.Total = len(report.Referrals)

	return report, nil
}

// PendingPayments возвращает аккаунты с платёжным подтверждением,
// требующим или уже прошедшим проверку администратора.
func (s *Service) PendingPayments(ctx context.Context) ([]model.Account, error) {
	accounts, err := s.store.Find(ctx, storage.Query{
		"paymentProof.status": storage.NotEqual{Value: string(model.PaymentStatusNone)},
	})
	if err != nil {
		return nil, fmt.Errorf("find payment requests: %w", err)
	}
	return accounts, nil
}

// WithdrawalRecord — заявка на вывод с привязкой к владельцу для админского списка.
type WithdrawalRecord struct {
	UserID        string                 `json:"userId"`
	Username      string                 `json:"username"`
	RequestID     string                 `json:"requestId"`
	Amount        int64                  `json:"amount"`
	Method        string                 `json:"method"`
	AccountNumber string                 `json:"accountNumber"`
	AccountTitle  string                 `json:"accountTitle"`
	Status        model.WithdrawalStatus `json:"status"`
	CreatedAt     time.Time              `json:"createdAt"`
}

// AllWithdrawals возвращает заявки всех аккаунтов, новые первыми.
func (s *Service) AllWithdrawals(ctx context.Context) ([]WithdrawalRecord, error) {
	accounts, err := s.store.Find(ctx, storage.Query{})
	if err != nil {
		return nil, fmt.Errorf("find accounts: %w", err)
	}

	var records []WithdrawalRecord
	for _, acc := range accounts {
		for _, req := range acc.WithdrawalRequests {
			status := req.Status
			if status == "" {
				status = model.WithdrawalStatusPending
			}
			records = append(records, WithdrawalRecord{
				UserID:        acc.ID,
				Username:      acc.Username,
				RequestID:     req.ID,
				Amount:        req.Amount,
				Method:        req.Method,
				AccountNumber: req.AccountNumber,
				AccountTitle:  req.AccountTitle,
				Status:        status,
				CreatedAt:     req.CreatedAt,
			})
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records, nil
}

// ApprovePayment применяет решение администратора по платежу. Реферер
// получает +1 к счётчику только при переходе подтверждения в approved из
// неодобренного состояния: повторное одобрение счётчик не меняет. Сбой
// начисления рефереру логируется и не отменяет основной эффект.
func (s *Service) ApprovePayment(ctx context.Context, id, status string) error {
	if !validation.IsValidPaymentDecision(status) {
		return ErrInvalidStatus
	}

	acc, err := s.store.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("find account: %w", err)
	}
	if acc == nil {
		return ErrAccountNotFound
	}

	wasApproved := acc.PaymentProof.Status == model.PaymentStatusApproved

	proof := acc.PaymentProof
	proof.Status = model.PaymentStatus(status)

	updated, err := s.store.UpdateByID(ctx, id, storage.Update{
		Set: map[string]any{
			"isApproved":   status == string(model.PaymentStatusApproved),
			"paymentProof": proof,
		},
	})
	if err != nil {
		return fmt.Errorf("apply decision: %w", err)
	}
	if updated == nil {
		return ErrAccountNotFound
	}

	if status == string(model.PaymentStatusApproved) && !wasApproved && updated.ReferredBy != "" {
		s.creditReferrer(ctx, updated.ReferredBy)
	}

	return nil
}

// creditReferrer начисляет рефереру +1 к счётчику рефералов.
func (s *Service) creditReferrer(ctx context.Context, referrerID string) {
	referrer, err := s.store.FindByID(ctx, referrerID)
	if err != nil || referrer == nil {
		s.logger.Warn("referrer lookup failed", zap.String("referrerID", referrerID), zap.Error(err))
		return
	}

	if _, err := s.store.UpdateByID(ctx, referrerID, storage.Update{
		Inc: map[string]int64{"referralCount": 1},
	}); err != nil {
		s.logger.Warn("referral credit failed", zap.String("referrerID", referrerID), zap.Error(err))
	}
}

// UpdateWithdrawal заменяет статус одной заявки на вывод, не трогая порядок
// и остальные заявки. Заявка ищется по идентификатору, а при его отсутствии —
// по точному совпадению отметки времени создания (совместимость со старым
// админским интерфейсом).
func (s *Service) UpdateWithdrawal(ctx context.Context, accountID, requestID string, createdAt time.Time, status string) error {
	if !validation.IsValidWithdrawalStatus(status) {
		return ErrInvalidStatus
	}

	acc, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("find account: %w", err)
	}
	if acc == nil {
		return ErrAccountNotFound
	}

	idx := -1
	for i, req := range acc.WithdrawalRequests {
		if requestID != "" {
			if req.ID == requestID {
				idx = i
				break
			}
			continue
		}
		if !req.CreatedAt.IsZero() && req.CreatedAt.Equal(createdAt) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrWithdrawalNotFound
	}

	requests := append([]model.WithdrawalRequest{}, acc.WithdrawalRequests...)
	requests[idx].Status = model.WithdrawalStatus(status)

	if _, err := s.store.UpdateByID(ctx, accountID, storage.Update{
		Set: map[string]any{"withdrawalRequests": requests},
	}); err != nil {
		return fmt.Errorf("save withdrawal status: %w", err)
	}

	return nil
}
