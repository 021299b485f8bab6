package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/diary-we-write/internal/diary"
	"github.com/yourusername/diary-we-write/internal/views"
)

const (
	SessionCookieName    = "dww_session"
	sessionKeyAccount    = "account_id"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"
	sessionKeyOAuthState = "oauth_state"

	csrfHeader    = "X-CSRF-Token"
	csrfFormField = "_csrf"

	defaultIdleTimeout = 30 * time.Minute
)

var maxSessionLifetime = 12 * time.Hour

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// ContextAccountKey は、ハンドラー間でログイン済みアカウントIDを共有するためのキーです。
const ContextAccountKey = "auth.account"

// Accounts は認証に使うアカウント操作です。diary.Service が実装します。
type Accounts interface {
	Register(ctx context.Context, username, password string) (*diary.Account, error)
	Authenticate(ctx context.Context, username, password string) (*diary.Account, error)
	LoginWithProvider(ctx context.Context, provider diary.Provider, subject string) (*diary.Account, error)
}

// Options は Manager の任意設定です。
type Options struct {
	Throttle    Throttle
	Providers   []*Provider
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// Manager は認証処理とセッション状態をまとめた構造体です。
type Manager struct {
	accounts    Accounts
	throttle    Throttle
	providers   map[diary.Provider]*Provider
	idleTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewManager は認証マネージャーを作成します。
func NewManager(accounts Accounts, opts Options) *Manager {
	m := &Manager{
		accounts:    accounts,
		throttle:    opts.Throttle,
		providers:   make(map[diary.Provider]*Provider),
		idleTimeout: opts.IdleTimeout,
		logger:      opts.Logger,
		now:         time.Now,
	}
	if m.throttle == nil {
		m.throttle = NewMemoryThrottle()
	}
	if m.idleTimeout <= 0 {
		m.idleTimeout = defaultIdleTimeout
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	for _, p := range opts.Providers {
		if p != nil {
			m.providers[p.Name] = p
		}
	}
	return m
}

// ProviderLinks は設定済みの外部認証プロバイダーを返します。
func (m *Manager) ProviderLinks() views.ProviderLinks {
	_, google := m.providers[diary.ProviderGoogle]
	_, facebook := m.providers[diary.ProviderFacebook]
	return views.ProviderLinks{Google: google, Facebook: facebook}
}

// AccountID は有効なセッションであればアカウントIDを返します。
// 有効期限切れ・アイドルタイムアウトのセッションは破棄し、未ログインとして扱います。
func (m *Manager) AccountID(c *gin.Context) (string, bool) {
	if v, ok := c.Get(ContextAccountKey); ok {
		if id, ok := v.(string); ok && id != "" {
			return id, true
		}
	}

	session := sessions.Default(c)
	id, ok := session.Get(sessionKeyAccount).(string)
	if !ok || id == "" {
		return "", false
	}

	now := m.now()
	issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
	lastActive := readUnix(session.Get(sessionKeyLastActive))
	if issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime ||
		lastActive.IsZero() || now.Sub(lastActive) > m.idleTimeout {
		session.Clear()
		_ = session.Save()
		return "", false
	}

	session.Set(sessionKeyLastActive, now.Unix())
	_ = session.Save()
	c.Set(ContextAccountKey, id)
	return id, true
}

// CSRFToken はセッションの CSRF トークンを返します。未発行なら発行します。
func (m *Manager) CSRFToken(c *gin.Context) string {
	session := sessions.Default(c)
	if token, ok := session.Get(sessionKeyCSRF).(string); ok && token != "" {
		return token
	}
	token, err := generateToken()
	if err != nil {
		m.logger.ErrorContext(c.Request.Context(), "failed to generate csrf token", slog.Any("error", err))
		return ""
	}
	session.Set(sessionKeyCSRF, token)
	_ = session.Save()
	return token
}

// establish はログイン済みセッションを作り直します。以前のセッション内容は破棄します。
func (m *Manager) establish(c *gin.Context, accountID string) error {
	token, err := generateToken()
	if err != nil {
		return err
	}

	session := sessions.Default(c)
	session.Clear()
	now := m.now()
	session.Set(sessionKeyAccount, accountID)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)
	if err := session.Save(); err != nil {
		return err
	}
	c.Set(ContextAccountKey, accountID)
	return nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
