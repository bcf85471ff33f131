// Package middleware содержит HTTP middleware и разбор сессии платформы earntube.
package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const accountIDKey contextKey = "accountID"

const (
	tokenCookieName = "token"
	uidCookieName   = "uid"
	userIDHeader    = "X-User-Id"

	// tokenTTL — срок жизни подписанного токена и сессионных cookie.
	tokenTTL = 7 * 24 * time.Hour
)

// ErrNoSession возвращается, когда в запросе нет ни одного носителя личности.
var (
	ErrNoSession = errors.New("no session")
	// ErrInvalidSession возвращается, когда подписанный токен не прошёл
	// проверку и запасного идентификатора нет.
	ErrInvalidSession = errors.New("invalid session")
)

// SessionResolver извлекает личность вызывающего из носителей запроса по
// единой политике приоритета: валидный подписанный токен всегда побеждает;
// иначе используется явный идентификатор — из тела запроса, затем из
// заголовка X-User-Id, затем из cookie uid.
type SessionResolver struct {
	secret     []byte
	production bool
}

// sessionClaims — полезная нагрузка подписанного токена.
type sessionClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// NewSessionResolver создаёт резолвер сессии с указанным секретным ключом.
func NewSessionResolver(secret string, production bool) *SessionResolver {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &SessionResolver{
		secret:     key,
		production: production,
	}
}

// IssueToken подписывает токен с идентификатором аккаунта и сроком жизни 7 дней.
func (s *SessionResolver) IssueToken(accountID string) (string, error) {
	claims := sessionClaims{
		UserID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// parseToken проверяет подпись и срок жизни токена и возвращает идентификатор.
func (s *SessionResolver) parseToken(token string) (string, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims.UserID == "" {
		return "", errors.New("token without userId claim")
	}
	return claims.UserID, nil
}

// tokenFromRequest достаёт подписанный токен из заголовка Authorization
// либо из cookie token.
func tokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if c, err := r.Cookie(tokenCookieName); err == nil {
		return c.Value
	}
	return ""
}

// explicitID достаёт явный идентификатор: заголовок, затем cookie uid.
func explicitID(r *http.Request) string {
	if id := r.Header.Get(userIDHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(uidCookieName); err == nil {
		return c.Value
	}
	return ""
}

// Resolve определяет личность вызывающего. bodyUserID — идентификатор из тела
// запроса, имеет приоритет среди явных источников. Валидный токен
// перекрывает любой явный идентификатор; невалидный токен без запасного
// идентификатора — ErrInvalidSession; отсутствие носителей — ErrNoSession.
func (s *SessionResolver) Resolve(r *http.Request, bodyUserID string) (string, error) {
	fallback := bodyUserID
	if fallback == "" {
		fallback = explicitID(r)
	}

	if token := tokenFromRequest(r); token != "" {
		id, err := s.parseToken(token)
		if err == nil {
			return id, nil
		}
		if fallback == "" {
			return "", ErrInvalidSession
		}
	}

	if fallback == "" {
		return "", ErrNoSession
	}
	return fallback, nil
}

// SessionErrorMessage возвращает текст отказа для ошибки разбора сессии.
func SessionErrorMessage(err error) string {
	if errors.Is(err, ErrInvalidSession) {
		return "Invalid session"
	}
	return "No session"
}

// Middleware разбирает сессию для маршрутов без идентификатора в теле запроса
// и кладёт идентификатор аккаунта в контекст.
func (s *SessionResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.Resolve(r, "")
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"` + SessionErrorMessage(err) + `"}`))
			return
		}

		ctx := context.WithValue(r.Context(), accountIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAccountIDFromContext извлекает идентификатор аккаунта из контекста запроса.
func GetAccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDKey).(string)
	return id, ok
}

// SetSessionCookies устанавливает cookie сессии: подписанный токен (HttpOnly)
// и открытый uid как запасной носитель идентификатора.
func (s *SessionResolver) SetSessionCookies(w http.ResponseWriter, token, accountID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(tokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.production,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     uidCookieName,
		Value:    accountID,
		Path:     "/",
		MaxAge:   int(tokenTTL.Seconds()),
		Secure:   s.production,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookies сбрасывает cookie сессии.
func (s *SessionResolver) ClearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.production,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     uidCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   s.production,
		SameSite: http.SameSiteLaxMode,
	})
}
