package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/diary-we-write/internal/views"
)

// RequireLogin はセッションを検証するミドルウェアを返します。未ログインなら /login へリダイレクトします。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := m.AccountID(c); !ok {
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		c.Next()
	}
}

// VerifyCSRF はフォームの _csrf フィールドまたは X-CSRF-Token ヘッダーを検証するミドルウェアです。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			m.rejectCSRF(c)
			return
		}

		received := c.PostForm(csrfFormField)
		if received == "" {
			received = c.GetHeader(csrfHeader)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			m.rejectCSRF(c)
			return
		}

		c.Next()
	}
}

func (m *Manager) rejectCSRF(c *gin.Context) {
	_, authenticated := m.AccountID(c)
	c.HTML(http.StatusForbidden, "error.tmpl", views.Page{
		Title:         "Forbidden",
		Authenticated: authenticated,
		Message:       "Your form expired. Please reload the page and try again.",
	})
	c.Abort()
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
