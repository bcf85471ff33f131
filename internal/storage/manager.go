package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/earntube/earntube-system/internal/model"
)

const (
	// DefaultRetryCooldown — окно, в течение которого после неудачного
	// подключения повторные попытки к сетевому бэкенду подавляются.
	DefaultRetryCooldown = 60 * time.Second
	// defaultConnectTimeout ограничивает одну попытку установления соединения.
	defaultConnectTimeout = 2 * time.Second
)

// ErrNoDatabaseURI возвращается в production-режиме, когда строка подключения
// к сетевой базе отсутствует или некорректна: молчаливый фолбэк в этом случае
// считается фатальной ошибкой конфигурации.
var ErrNoDatabaseURI = errors.New("production mode requires a mongodb connection string")

// Options задаёт политику менеджера соединения.
type Options struct {
	// URI — строка подключения к MongoDB. Пустая или не начинающаяся с
	// "mongodb" строка означает, что сетевой бэкенд не сконфигурирован.
	URI string
	// LocalPath — файл локального хранилища для персистентного окружения.
	LocalPath string
	// Serverless — признак окружения без надёжного локального диска:
	// фолбэк выполняется в хранилище в памяти.
	Serverless bool
	// Production — запрет молчаливого фолбэка при отсутствии строки подключения.
	Production bool
	// RetryCooldown переопределяет окно подавления повторных подключений.
	RetryCooldown time.Duration
	// ConnectTimeout ограничивает одну попытку подключения.
	ConnectTimeout time.Duration
}

// mongoHandle — установленное соединение с сетевым бэкендом.
type mongoHandle interface {
	AccountStore
	Close(ctx context.Context) error
}

// Manager выдаёт на каждую операцию доступный бэкенд хранения, предпочитая
// сетевой. Соединение устанавливается лениво и переиспользуется до первого
// наблюдаемого сбоя; конкурентные первые обращения ожидают одну общую попытку
// подключения. Manager сам реализует AccountStore, поэтому бизнес-логика
// никогда не ветвится по типу бэкенда.
type Manager struct {
	opts   Options
	logger *zap.Logger

	// dial подменяется в тестах.
	dial func(ctx context.Context, uri string) (mongoHandle, error)

	group singleflight.Group

	mu           sync.Mutex
	mongo        mongoHandle
	local        *localStore
	localBackend Backend
	lastFailure  time.Time
	active       Backend
}

// NewManager создаёт менеджер соединения. В production-режиме отсутствие
// корректной строки подключения — фатальная ошибка конфигурации.
func NewManager(opts Options, logger *zap.Logger) (*Manager, error) {
	if opts.RetryCooldown <= 0 {
		opts.RetryCooldown = DefaultRetryCooldown
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}

	if opts.Production && !mongoConfigured(opts.URI) {
		return nil, ErrNoDatabaseURI
	}

	return &Manager{
		opts:   opts,
		logger: logger,
		dial: func(ctx context.Context, uri string) (mongoHandle, error) {
			return dialMongo(ctx, uri)
		},
	}, nil
}

func mongoConfigured(uri string) bool {
	return strings.HasPrefix(uri, "mongodb")
}

// Backend возвращает тег бэкенда, обслужившего последнюю операцию.
func (m *Manager) Backend() Backend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Close разрывает соединение с сетевым бэкендом, если оно было установлено.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	handle := m.mongo
	m.mongo = nil
	m.mu.Unlock()

	if handle != nil {
		return handle.Close(ctx)
	}
	return nil
}

// acquire возвращает активный бэкенд для одной операции. Живое соединение
// возвращается немедленно, без ввода-вывода; после сбоя повторные попытки
// подключения подавляются до истечения окна RetryCooldown.
func (m *Manager) acquire(ctx context.Context) (AccountStore, Backend, error) {
	m.mu.Lock()
	if m.mongo != nil {
		store := m.mongo
		m.active = BackendMongo
		m.mu.Unlock()
		return store, BackendMongo, nil
	}
	canDial := mongoConfigured(m.opts.URI) &&
		(m.lastFailure.IsZero() || time.Since(m.lastFailure) >= m.opts.RetryCooldown)
	m.mu.Unlock()

	if canDial {
		v, err, _ := m.group.Do("dial", func() (any, error) {
			dialCtx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)
			defer cancel()

			handle, err := m.dial(dialCtx, m.opts.URI)
			m.mu.Lock()
			defer m.mu.Unlock()
			if err != nil {
				m.lastFailure = time.Now()
				return nil, err
			}
			m.mongo = handle
			m.lastFailure = time.Time{}
			return handle, nil
		})
		if err == nil {
			m.mu.Lock()
			m.active = BackendMongo
			m.mu.Unlock()
			return v.(mongoHandle), BackendMongo, nil
		}
		m.logger.Warn("networked backend unreachable, falling back to local store",
			zap.Error(err),
			zap.Duration("retry_cooldown", m.opts.RetryCooldown),
		)
	}

	return m.fallback()
}

// fallback выбирает локальный бэкенд согласно окружению: файловое хранилище в
// персистентном окружении, хранилище в памяти — в serverless. Если сетевой
// бэкенд сконфигурирован, но недоступен, фолбэк в память помечается как
// деградированный.
func (m *Manager) fallback() (AccountStore, Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.local != nil {
		m.active = m.localBackend
		return m.local, m.localBackend, nil
	}

	degraded := mongoConfigured(m.opts.URI)

	if m.opts.Serverless {
		local, err := newLocalStore("")
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		m.local = local
		m.localBackend = BackendMemory
		if degraded {
			m.localBackend = BackendMemoryDegraded
		}
		m.active = m.localBackend
		return m.local, m.localBackend, nil
	}

	local, err := newLocalStore(m.opts.LocalPath)
	if err != nil {
		m.logger.Warn("durable local store unavailable, using in-memory store",
			zap.String("path", m.opts.LocalPath),
			zap.Error(err),
		)
		local, err = newLocalStore("")
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		m.local = local
		m.localBackend = BackendMemoryDegraded
		m.active = m.localBackend
		return m.local, m.localBackend, nil
	}

	m.local = local
	m.localBackend = BackendFile
	m.active = m.localBackend
	return m.local, m.localBackend, nil
}

// observe фиксирует сбой соединения, наблюдаемый на операции сетевого бэкенда:
// хэндл сбрасывается, запускается окно подавления повторных подключений.
func (m *Manager) observe(backend Backend, err error) {
	if backend != BackendMongo || err == nil || !isConnectionError(err) {
		return
	}

	m.mu.Lock()
	handle := m.mongo
	m.mongo = nil
	m.lastFailure = time.Now()
	m.mu.Unlock()

	if handle != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = handle.Close(closeCtx)
	}

	m.logger.Warn("networked backend failure observed, handle dropped", zap.Error(err))
}

// isConnectionError отличает сетевые сбои от прикладных ошибок: таймауты,
// сетевые ошибки драйвера и любая ошибка транспортного уровня в цепочке.
func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// FindOne реализует AccountStore поверх активного бэкенда.
func (m *Manager) FindOne(ctx context.Context, q Query) (*model.Account, error) {
	store, backend, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	acc, err := store.FindOne(ctx, q)
	m.observe(backend, err)
	return acc, err
}

// FindByID реализует AccountStore поверх активного бэкенда.
func (m *Manager) FindByID(ctx context.Context, id string) (*model.Account, error) {
	store, backend, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	acc, err := store.FindByID(ctx, id)
	m.observe(backend, err)
	return acc, err
}

// Find реализует AccountStore поверх активного бэкенда.
func (m *Manager) Find(ctx context.Context, q Query) ([]model.Account, error) {
	store, backend, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	res, err := store.Find(ctx, q)
	m.observe(backend, err)
	return res, err
}

// Create реализует AccountStore поверх активного бэкенда.
func (m *Manager) Create(ctx context.Context, acc model.Account) (*model.Account, error) {
	store, backend, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	created, err := store.Create(ctx, acc)
	m.observe(backend, err)
	return created, err
}

// UpdateByID реализует AccountStore поверх активного бэкенда.
func (m *Manager) UpdateByID(ctx context.Context, id string, u Update) (*model.Account, error) {
	store, backend, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	acc, err := store.UpdateByID(ctx, id, u)
	m.observe(backend, err)
	return acc, err
}
