// Package auth は認証・認可機能を提供します。
package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/yourusername/diary-we-write/internal/diary"
	"github.com/yourusername/diary-we-write/internal/views"
)

type credentialsForm struct {
	Username string `form:"username" binding:"required,max=64"`
	Password string `form:"password" binding:"required,max=72"`
}

// LoginForm は GET /login のハンドラーです。
func (m *Manager) LoginForm(c *gin.Context) {
	m.renderForm(c, "login.tmpl", "Log in")
}

// RegisterForm は GET /register のハンドラーです。
func (m *Manager) RegisterForm(c *gin.Context) {
	m.renderForm(c, "register.tmpl", "Register")
}

func (m *Manager) renderForm(c *gin.Context, name, title string) {
	_, authenticated := m.AccountID(c)
	c.HTML(http.StatusOK, name, views.Page{
		Title:         title,
		Authenticated: authenticated,
		Providers:     m.ProviderLinks(),
	})
}

// Login は POST /login のハンドラーです。失敗理由は画面に出さず /login に戻します。
func (m *Manager) Login(c *gin.Context) {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	retryAfter, err := m.throttle.Locked(ctx, ip)
	if err != nil {
		m.logger.WarnContext(ctx, "login throttle unavailable", slog.Any("error", err))
	}
	if retryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		c.Redirect(http.StatusFound, "/login")
		return
	}

	var form credentialsForm
	if err := c.ShouldBind(&form); err != nil {
		c.Redirect(http.StatusFound, "/login")
		return
	}

	account, err := m.accounts.Authenticate(ctx, form.Username, form.Password)
	if err != nil {
		if errors.Is(err, diary.ErrInvalidCredentials) {
			remaining, failErr := m.throttle.Fail(ctx, ip)
			if failErr != nil {
				m.logger.WarnContext(ctx, "failed to record login failure", slog.Any("error", failErr))
			}
			m.logger.InfoContext(ctx, "login rejected",
				slog.String("client_ip", ip),
				slog.Int("remaining_attempts", remaining))
		} else {
			m.logger.ErrorContext(ctx, "login failed", slog.Any("error", err))
		}
		c.Redirect(http.StatusFound, "/login")
		return
	}

	if err := m.throttle.Reset(ctx, ip); err != nil {
		m.logger.WarnContext(ctx, "failed to reset login failures", slog.Any("error", err))
	}
	if err := m.establish(c, account.ID); err != nil {
		m.logger.ErrorContext(ctx, "failed to save session", slog.Any("error", err))
		c.Redirect(http.StatusFound, "/login")
		return
	}
	c.Redirect(http.StatusFound, "/diaries")
}

// Register は POST /register のハンドラーです。
func (m *Manager) Register(c *gin.Context) {
	ctx := c.Request.Context()

	var form credentialsForm
	if err := c.ShouldBind(&form); err != nil {
		m.logger.InfoContext(ctx, "registration form rejected", slog.Any("error", err))
		c.Redirect(http.StatusFound, "/register")
		return
	}

	account, err := m.accounts.Register(ctx, form.Username, form.Password)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, diary.ErrUsernameTaken) || errors.Is(err, diary.ErrInvalidInput) {
			level = slog.LevelInfo
		}
		m.logger.Log(ctx, level, "registration failed", slog.Any("error", err))
		c.Redirect(http.StatusFound, "/register")
		return
	}

	if err := m.establish(c, account.ID); err != nil {
		m.logger.ErrorContext(ctx, "failed to save session", slog.Any("error", err))
		c.Redirect(http.StatusFound, "/login")
		return
	}
	c.Redirect(http.StatusFound, "/diaries")
}

// Logout は GET /logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		m.logger.ErrorContext(c.Request.Context(), "failed to clear session", slog.Any("error", err))
	}
	c.Redirect(http.StatusFound, "/")
}

// BeginOAuth は GET /auth/{provider} のハンドラーを返します。
func (m *Manager) BeginOAuth(name diary.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider, ok := m.providers[name]
		if !ok {
			m.logger.WarnContext(c.Request.Context(), "oauth provider not configured", slog.String("provider", string(name)))
			c.Redirect(http.StatusFound, "/login")
			return
		}

		state, err := generateToken()
		if err != nil {
			m.logger.ErrorContext(c.Request.Context(), "failed to generate oauth state", slog.Any("error", err))
			c.Redirect(http.StatusFound, "/login")
			return
		}
		session := sessions.Default(c)
		session.Set(sessionKeyOAuthState, string(name)+":"+state)
		if err := session.Save(); err != nil {
			m.logger.ErrorContext(c.Request.Context(), "failed to save oauth state", slog.Any("error", err))
			c.Redirect(http.StatusFound, "/login")
			return
		}

		c.Redirect(http.StatusFound, provider.AuthCodeURL(state))
	}
}

// OAuthCallback は GET /auth/{provider}/diaries のハンドラーを返します。
// state の検証、コード交換、アカウントの検索または作成を行います。
func (m *Manager) OAuthCallback(name diary.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		fail := func(msg string, attrs ...any) {
			m.logger.WarnContext(ctx, msg, append([]any{slog.String("provider", string(name))}, attrs...)...)
			_ = sessions.Default(c).Save()
			c.Redirect(http.StatusFound, "/login")
		}

		provider, ok := m.providers[name]
		if !ok {
			fail("oauth provider not configured")
			return
		}

		session := sessions.Default(c)
		expected, _ := session.Get(sessionKeyOAuthState).(string)
		// state は1回限り。保存は成功時の establish か fail で行う
		session.Delete(sessionKeyOAuthState)

		if denied := c.Query("error"); denied != "" {
			fail("oauth consent denied", slog.String("reason", denied))
			return
		}
		received := string(name) + ":" + c.Query("state")
		if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			fail("oauth state mismatch")
			return
		}
		code := c.Query("code")
		if code == "" {
			fail("oauth callback without code")
			return
		}

		subject, err := provider.Subject(ctx, code)
		if err != nil {
			fail("oauth exchange failed", slog.Any("error", err))
			return
		}
		account, err := m.accounts.LoginWithProvider(ctx, name, subject)
		if err != nil {
			m.logger.ErrorContext(ctx, "provider login failed", slog.String("provider", string(name)), slog.Any("error", err))
			_ = session.Save()
			c.Redirect(http.StatusFound, "/login")
			return
		}

		if err := m.establish(c, account.ID); err != nil {
			m.logger.ErrorContext(ctx, "failed to save session", slog.Any("error", err))
			c.Redirect(http.StatusFound, "/login")
			return
		}
		c.Redirect(http.StatusFound, "/diaries")
	}
}
