// Package storage реализует слой хранения аккаунтов с двумя взаимозаменяемыми
// бэкендами: сетевой документной базой MongoDB и встроенным локальным
// хранилищем. Выбор бэкенда выполняется менеджером соединения на каждый вызов.
package storage

import (
	"context"
	"errors"

	"github.com/earntube/earntube-system/internal/model"
)

// ErrDuplicateKey возвращается при нарушении уникальности username или email.
// Уникальность обеспечивает только сетевой бэкенд; локальный полагается на
// предварительную проверку вызывающей стороны.
var (
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrUnavailable возвращается, когда ни один бэкенд недоступен.
	ErrUnavailable = errors.New("storage unavailable")
)

// Backend идентифицирует активный бэкенд хранения.
type Backend string

const (
	// BackendMongo — сетевая документная база.
	BackendMongo Backend = "networked"
	// BackendFile — локальное файловое хранилище.
	BackendFile Backend = "local-durable"
	// BackendMemory — локальное хранилище в памяти, выбранное политикой окружения.
	BackendMemory Backend = "local-memory"
	// BackendMemoryDegraded — хранилище в памяти как аварийный фолбэк при
	// недоступной сконфигурированной базе: данные будут потеряны при перезапуске.
	BackendMemoryDegraded Backend = "local-memory-degraded"
)

// NotEqual оборачивает значение предиката, которому поле не должно быть равно.
type NotEqual struct {
	Value any
}

// Query — предикат поиска по полям документа аккаунта. Ключи соответствуют
// именам полей документа ("username", "email", "referredBy",
// "paymentProof.status"); значения — примитивы либо NotEqual.
type Query map[string]any

// Update — закрытое множество операций изменения документа.
// Set перезаписывает поля, Inc прибавляет числовую дельту; отсутствующее
// значение при инкременте трактуется как ноль.
type Update struct {
	Set map[string]any
	Inc map[string]int64
}

// AccountStore описывает единый CRUD-контракт над коллекцией аккаунтов.
// Промах поиска — это (nil, nil), а не ошибка.
type AccountStore interface {
	FindOne(ctx context.Context, q Query) (*model.Account, error)
	FindByID(ctx context.Context, id string) (*model.Account, error)
	Find(ctx context.Context, q Query) ([]model.Account, error)
	Create(ctx context.Context, acc model.Account) (*model.Account, error)
	UpdateByID(ctx context.Context, id string, u Update) (*model.Account, error)
}

// withDefaults накладывает поля нового аккаунта на шаблон значений по умолчанию.
func withDefaults(acc model.Account) model.Account {
	if acc.Plan == "" {
		acc.Plan = "none"
	}
	if acc.WithdrawalRequests == nil {
		acc.WithdrawalRequests = []model.WithdrawalRequest{}
	}
	if acc.PaymentProof.Status == "" {
		acc.PaymentProof.Status = model.PaymentStatusNone
	}
	return acc
}
