package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/earntube/earntube-system/internal/model"
)

// localStore — встроенное локальное хранилище аккаунтов: карта в памяти с
// опциональной персистентностью в JSON-файл. Обновление записи выполняется
// по схеме «прочитать — изменить копию — записать целиком», без блокировки
// между чтением и записью: при конкурентных обновлениях одной записи один из
// результатов может быть потерян. Это сознательно сохранённое ограничение
// фолбэка, а не ошибка (атомарность даёт только сетевой бэкенд).
type localStore struct {
	mu       sync.Mutex
	path     string // пустая строка — хранилище только в памяти
	accounts map[string]model.Account
}

// newLocalStore открывает локальное хранилище. При непустом path содержимое
// файла загружается, а каждая мутация перезаписывает файл целиком.
func newLocalStore(path string) (*localStore, error) {
	s := &localStore{
		path:     path,
		accounts: make(map[string]model.Account),
	}

	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
			return s, nil
		}
		return nil, fmt.Errorf("read store file: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.accounts); err != nil {
			return nil, fmt.Errorf("decode store file: %w", err)
		}
	}

	return s, nil
}

// persist записывает всё содержимое хранилища во временный файл с последующим
// переименованием. Вызывается под мьютексом.
func (s *localStore) persist() error {
	if s.path == "" {
		return nil
	}

	data, err := json.Marshal(s.accounts)
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename store file: %w", err)
	}

	return nil
}

// FindOne возвращает первый аккаунт, удовлетворяющий предикату.
func (s *localStore) FindOne(ctx context.Context, q Query) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acc := range s.accounts {
		if matches(&acc, q) {
			found := acc
			return &found, nil
		}
	}
	return nil, nil
}

// FindByID возвращает аккаунт по идентификатору. Промах — (nil, nil).
func (s *localStore) FindByID(ctx context.Context, id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	found := acc
	return &found, nil
}

// Find возвращает все аккаунты, удовлетворяющие предикату, в произвольном порядке.
func (s *localStore) Find(ctx context.Context, q Query) ([]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.Account
	for _, acc := range s.accounts {
		if matches(&acc, q) {
			res = append(res, acc)
		}
	}
	return res, nil
}

// Create сохраняет новый аккаунт, наложив поля на шаблон по умолчанию.
// Уникальность username и email локальный бэкенд не проверяет.
func (s *localStore) Create(ctx context.Context, acc model.Account) (*model.Account, error) {
	acc = withDefaults(acc)
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[acc.ID] = acc
	if err := s.persist(); err != nil {
		return nil, err
	}

	created := acc
	return &created, nil
}

// UpdateByID применяет патч к записи и сохраняет её целиком.
// Между чтением текущего состояния и обратной записью блокировка не
// удерживается, поэтому конкурентное обновление той же записи может быть
// перезаписано (last-write-wins на всю запись).
func (s *localStore) UpdateByID(ctx context.Context, id string, u Update) (*model.Account, error) {
	s.mu.Lock()
	current, ok := s.accounts[id]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}

	applyUpdate(&current, u)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[id] = current
	if err := s.persist(); err != nil {
		return nil, err
	}

	updated := current
	return &updated, nil
}

// matches проверяет аккаунт на соответствие предикату.
func matches(acc *model.Account, q Query) bool {
	for key, want := range q {
		got := fieldValue(acc, key)
		if ne, ok := want.(NotEqual); ok {
			if got == ne.Value {
				return false
			}
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}

// fieldValue извлекает значение индексируемого поля документа по его имени.
func fieldValue(acc *model.Account, key string) any {
	switch key {
	case "_id":
		return acc.ID
	case "username":
		return acc.Username
	case "email":
		return acc.Email
	case "plan":
		return acc.Plan
	case "referredBy":
		return acc.ReferredBy
	case "isApproved":
		return acc.IsApproved
	case "isAdmin":
		return acc.IsAdmin
	case "paymentProof.status":
		return string(acc.PaymentProof.Status)
	default:
		return nil
	}
}

// applyUpdate воспроизводит семантику патча сетевого бэкенда на записи в
// памяти: сначала перезапись полей из Set, затем инкременты из Inc.
func applyUpdate(acc *model.Account, u Update) {
	for key, v := range u.Set {
		applySet(acc, key, v)
	}
	for key, delta := range u.Inc {
		applyInc(acc, key, delta)
	}
}

func applySet(acc *model.Account, key string, v any) {
	switch key {
	case "plan":
		if s, ok := v.(string); ok {
			acc.Plan = s
		}
	case "balance":
		if n, ok := asInt64(v); ok {
			acc.Balance = n
		}
	case "videosLeft":
		if n, ok := asInt64(v); ok {
			acc.VideosLeft = n
		}
	case "lastWatchDate":
		if s, ok := v.(string); ok {
			acc.LastWatchDate = s
		}
	case "lastVideoResetAt":
		if t, ok := v.(time.Time); ok {
			acc.LastVideoResetAt = &t
		}
	case "lastVideoPlan":
		if s, ok := v.(string); ok {
			acc.LastVideoPlan = s
		}
	case "isApproved":
		if b, ok := v.(bool); ok {
			acc.IsApproved = b
		}
	case "referralCount":
		if n, ok := asInt64(v); ok {
			acc.ReferralCount = n
		}
	case "paymentProof":
		if p, ok := v.(model.PaymentProof); ok {
			acc.PaymentProof = p
		}
	case "withdrawalRequests":
		if reqs, ok := v.([]model.WithdrawalRequest); ok {
			acc.WithdrawalRequests = reqs
		}
	}
}

func applyInc(acc *model.Account, key string, delta int64) {
	switch key {
	case "balance":
		acc.Balance += delta
	case "videosLeft":
		acc.VideosLeft += delta
	case "referralCount":
		acc.ReferralCount += delta
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
