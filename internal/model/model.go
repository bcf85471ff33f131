// Package model содержит доменные сущности платформы earntube.
package model

import (
	"strings"
	"time"
)

// PaymentStatus описывает статус платёжного подтверждения.
type PaymentStatus string

const (
	PaymentStatusNone     PaymentStatus = "none"
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusApproved PaymentStatus = "approved"
	PaymentStatusRejected PaymentStatus = "rejected"
)

// WithdrawalStatus описывает статус заявки на вывод средств.
type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusApproved  WithdrawalStatus = "approved"
	WithdrawalStatusRejected  WithdrawalStatus = "rejected"
	WithdrawalStatusCompleted WithdrawalStatus = "completed"
)

// PaymentProof содержит данные о платеже за тариф, ожидающем проверки администратором.
// У аккаунта хранится только последнее подтверждение: повторная покупка затирает прежнее.
type PaymentProof struct {
	Method        string        `bson:"method" json:"method"`
	TransactionID string        `bson:"transactionId" json:"transactionId"`
	Date          time.Time     `bson:"date" json:"date"`
	Status        PaymentStatus `bson:"status" json:"status"`
}

// WithdrawalRequest описывает заявку пользователя на вывод средств.
// CreatedAt сохраняется для совместимости со старым админским интерфейсом,
// который адресует заявку по отметке времени.
type WithdrawalRequest struct {
	ID            string           `bson:"id" json:"id"`
	Amount        int64            `bson:"amount" json:"amount"`
	Method        string           `bson:"method" json:"method"`
	AccountNumber string           `bson:"accountNumber" json:"accountNumber"`
	AccountTitle  string           `bson:"accountTitle" json:"accountTitle"`
	Status        WithdrawalStatus `bson:"status" json:"status"`
	CreatedAt     time.Time        `bson:"createdAt" json:"createdAt"`
}

// Account представляет зарегистрированного участника платформы — единственный
// персистентный агрегат системы. Наружу аккаунт отдаётся только через
// проекцию Public, не содержащую хеш пароля.
type Account struct {
	ID           string `bson:"_id,omitempty" json:"id"`
	Username     string `bson:"username" json:"username"`
	PasswordHash string `bson:"password" json:"password,omitempty"`
	Email        string `bson:"email" json:"email"`

	Plan       string `bson:"plan" json:"plan"`
	Balance    int64  `bson:"balance" json:"balance"`
	IsApproved bool   `bson:"isApproved" json:"isApproved"`
	IsAdmin    bool   `bson:"isAdmin" json:"isAdmin"`

	VideosLeft       int64      `bson:"videosLeft" json:"videosLeft"`
	LastWatchDate    string     `bson:"lastWatchDate,omitempty" json:"lastWatchDate,omitempty"`
	LastVideoResetAt *time.Time `bson:"lastVideoResetAt,omitempty" json:"lastVideoResetAt,omitempty"`
	LastVideoPlan    string     `bson:"lastVideoPlan,omitempty" json:"lastVideoPlan,omitempty"`

	ReferredBy    string `bson:"referredBy,omitempty" json:"referredBy,omitempty"`
	ReferralCount int64  `bson:"referralCount" json:"referralCount"`

	WithdrawalRequests []WithdrawalRequest `bson:"withdrawalRequests" json:"withdrawalRequests"`
	PaymentProof       PaymentProof        `bson:"paymentProof" json:"paymentProof"`
}

// PublicAccount — JSON-проекция аккаунта для внешнего слоя без учётных данных.
type PublicAccount struct {
	ID                 string              `json:"id"`
	Username           string              `json:"username"`
	Email              string              `json:"email"`
	Plan               string              `json:"plan"`
	Balance            int64               `json:"balance"`
	IsApproved         bool                `json:"isApproved"`
	IsAdmin            bool                `json:"isAdmin"`
	VideosLeft         int64               `json:"videosLeft"`
	ReferralCount      int64               `json:"referralCount"`
	WithdrawalRequests []WithdrawalRequest `json:"withdrawalRequests"`
	PaymentProof       PaymentProof        `json:"paymentProof"`
}

// Public возвращает безопасную проекцию аккаунта.
func (a *Account) Public() PublicAccount {
	requests := a.WithdrawalRequests
	if requests == nil {
		requests = []WithdrawalRequest{}
	}
	return PublicAccount{
		ID:                 a.ID,
		Username:           a.Username,
		Email:              a.Email,
		Plan:               a.Plan,
		Balance:            a.Balance,
		IsApproved:         a.IsApproved,
		IsAdmin:            a.IsAdmin,
		VideosLeft:         a.VideosLeft,
		ReferralCount:      a.ReferralCount,
		WithdrawalRequests: requests,
		PaymentProof:       a.PaymentProof,
	}
}

// PlanConfig описывает параметры тарифа: дневной лимит просмотров и выплату за одно видео.
type PlanConfig struct {
	Limit int64
	Pay   int64
}

// planTable — фиксированная таблица тарифов. Лимит ruby фактически означает
// «без ограничений»: 999999 просмотров за сутки исчерпать невозможно.
var planTable = map[string]PlanConfig{
	"basic":    {Limit: 5, Pay: 20},
	"silver":   {Limit: 10, Pay: 25},
	"premium":  {Limit: 15, Pay: 30},
	"gold":     {Limit: 25, Pay: 40},
	"diamond":  {Limit: 50, Pay: 50},
	"platinum": {Limit: 80, Pay: 65},
	"emerald":  {Limit: 120, Pay: 100},
	"sapphire": {Limit: 200, Pay: 150},
	"ruby":     {Limit: 999999, Pay: 200},
}

// NormalizePlan приводит ключ тарифа к каноническому виду.
func NormalizePlan(plan string) string {
	key := strings.ToLower(strings.TrimSpace(plan))
	if key == "" {
		return "none"
	}
	return key
}

// PlanFor возвращает параметры тарифа по его ключу.
// Неизвестные ключи (включая "none") дают нулевой тариф {0, 0}.
func PlanFor(plan string) PlanConfig {
	if cfg, ok := planTable[NormalizePlan(plan)]; ok {
		return cfg
	}
	return PlanConfig{}
}
