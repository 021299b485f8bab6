package main

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/diary-we-write/internal/auth"
	"github.com/yourusername/diary-we-write/internal/config"
	"github.com/yourusername/diary-we-write/internal/diary"
	"github.com/yourusername/diary-we-write/internal/logging"
	"github.com/yourusername/diary-we-write/internal/views"
)

// newRouter はミドルウェアとルーティングを設定した Gin エンジンを返します。
func newRouter(cfg *config.Config, service *diary.Service, manager *auth.Manager, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	// X-Forwarded-For は設定したプロキシから届いたものだけ信用する
	if err := router.SetTrustedProxies(cfg.TrustedProxies()); err != nil {
		logger.Error("invalid trusted proxies; trusting none", slog.Any("error", err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery(), logging.Middleware(logger))
	router.SetHTMLTemplate(views.Templates())
	router.StaticFS("/static", views.Static())

	// セッションストアの設定（クッキー署名鍵は必須）
	// OAuth のコールバックは別サイトからの遷移なので SameSite は Lax にする
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.SecureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	if origins := cfg.AllowedOrigins(); len(origins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{
			"Origin",
			"Content-Type",
			"Accept",
			"X-CSRF-Token",
		}
		router.Use(cors.New(corsConfig))
	}

	setupRoutes(router, service, manager, logger)
	return router
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "diary-we-write",
	})
}

func setupRoutes(router *gin.Engine, service *diary.Service, manager *auth.Manager, logger *slog.Logger) {
	router.GET("/health", handleHealth)

	router.GET("/", diary.HomeHandler(manager))
	router.GET("/diaries", diary.DiariesHandler(service, manager, logger))

	router.GET("/login", manager.LoginForm)
	router.POST("/login", manager.Login)
	router.GET("/register", manager.RegisterForm)
	router.POST("/register", manager.Register)
	router.GET("/logout", manager.Logout)

	submit := router.Group("/submit", manager.RequireLogin())
	{
		submit.GET("", diary.SubmitFormHandler(manager))
		submit.POST("", manager.VerifyCSRF(), diary.SubmitHandler(service, manager, logger))
	}

	for _, provider := range []diary.Provider{diary.ProviderGoogle, diary.ProviderFacebook} {
		router.GET("/auth/"+string(provider), manager.BeginOAuth(provider))
		router.GET("/auth/"+string(provider)+"/diaries", manager.OAuthCallback(provider))
	}
}
