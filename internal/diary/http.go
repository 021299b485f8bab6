package diary

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/yourusername/diary-we-write/internal/views"
)

// Sessions はリクエストのログイン状態を参照します。auth.Manager が実装します。
type Sessions interface {
	AccountID(c *gin.Context) (string, bool)
	CSRFToken(c *gin.Context) string
}

// TodayLister は今日の日記一覧を返すサービスが実装します。
type TodayLister interface {
	ListToday(ctx context.Context) (string, []TodayEntry, error)
}

// EntrySubmitter は今日の日記を保存するサービスが実装します。
type EntrySubmitter interface {
	Submit(ctx context.Context, accountID, task string) (bool, error)
}

type submitForm struct {
	Diary string `form:"diary"`
}

// HomeHandler は GET / のハンドラーを返します。ログイン済みなら /diaries へ移動します。
func HomeHandler(sessions Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := sessions.AccountID(c); ok {
			c.Redirect(http.StatusFound, "/diaries")
			return
		}
		c.HTML(http.StatusOK, "home.tmpl", views.Page{})
	}
}

// DiariesHandler は GET /diaries のハンドラーを返します。未ログインでも閲覧できます。
func DiariesHandler(svc TodayLister, sessions Sessions, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, authenticated := sessions.AccountID(c)

		date, entries, err := svc.ListToday(c.Request.Context())
		if err != nil {
			logger.ErrorContext(c.Request.Context(), "failed to list today's diaries", slog.Any("error", err))
			renderError(c, http.StatusInternalServerError, authenticated, "Today's diaries could not be loaded.")
			return
		}

		page := views.Page{
			Title:         "Today",
			Authenticated: authenticated,
			Date:          date,
			Entries:       make([]views.EntryView, 0, len(entries)),
		}
		for _, e := range entries {
			page.Entries = append(page.Entries, views.EntryView{Task: e.Task})
		}
		c.HTML(http.StatusOK, "diaries.tmpl", page)
	}
}

// SubmitFormHandler は GET /submit のハンドラーを返します。RequireLogin の後に置きます。
func SubmitFormHandler(sessions Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, "submit.tmpl", views.Page{
			Title:         "Write",
			Authenticated: true,
			CSRFToken:     sessions.CSRFToken(c),
		})
	}
}

// SubmitHandler は POST /submit のハンドラーを返します。上書き・追加のどちらでも /diaries へ移動します。
func SubmitHandler(svc EntrySubmitter, sessions Sessions, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, ok := sessions.AccountID(c)
		if !ok {
			c.Redirect(http.StatusFound, "/login")
			return
		}

		var form submitForm
		if err := c.ShouldBind(&form); err != nil {
			c.Redirect(http.StatusFound, "/submit")
			return
		}

		if _, err := svc.Submit(c.Request.Context(), accountID, form.Diary); err != nil {
			switch {
			case errors.Is(err, ErrEmptyEntry):
				c.Redirect(http.StatusFound, "/submit")
			case errors.Is(err, ErrAccountNotFound):
				// セッションが削除済みアカウントを指している
				logger.WarnContext(c.Request.Context(), "submit for unknown account", slog.String("account_id", accountID))
				c.Redirect(http.StatusFound, "/logout")
			default:
				logger.ErrorContext(c.Request.Context(), "failed to save diary entry", slog.Any("error", err))
				renderError(c, http.StatusInternalServerError, true, "Your diary could not be saved.")
			}
			return
		}
		c.Redirect(http.StatusFound, "/diaries")
	}
}

func renderError(c *gin.Context, status int, authenticated bool, message string) {
	c.HTML(status, "error.tmpl", views.Page{
		Title:         "Error",
		Authenticated: authenticated,
		Message:       message,
	})
}
