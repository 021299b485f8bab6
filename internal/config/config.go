// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	// DIARY_TIMEZONE をタイムゾーンDBのないイメージでも解決する
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	devSessionSecret = "dev-only-session-secret-change-me"
)

// OAuthClient は外部認証プロバイダーのクライアント情報です。
type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

// Enabled はクライアントIDとシークレットが揃っているかを返します。
func (o OAuthClient) Enabled() bool {
	return o.ClientID != "" && o.ClientSecret != ""
}

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // HTTPサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)
	Domain  string // OAuth コールバックURLの組み立てに使う公開ドメイン
	// PublicBaseURL が設定されていれば Domain と Port より優先する
	PublicBaseURL string
	// X-Forwarded-For を信用するプロキシ（IP または CIDR、カンマ区切り、空なら信用しない）
	TrustedProxiesList string

	// セッション設定
	SessionSecret string
	SessionIdle   time.Duration

	// ストレージ設定
	StoreDriver       string // mongo, postgres, memory
	MongoURI          string
	MongoDatabase     string
	PostgresDSN       string
	DBConnectTimeout  time.Duration
	RedisURL          string // ログイン試行回数の共有用（任意）
	DiaryTimezoneName string // 日付キーの計算に使うタイムゾーン（空ならサーバーのローカル時刻）

	// 外部認証
	Google   OAuthClient
	Facebook OAuthClient

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り、空なら無効）

	// ログ設定
	LogLevel  string
	LogFormat string
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:          getEnv("PORT", "3000"),
		GinMode:       getEnv("GIN_MODE", "debug"),
		Domain:        getEnv("DOMAIN", "http://localhost"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		TrustedProxiesList: getEnv("TRUSTED_PROXIES", ""),

		SessionSecret: getEnv("SESSION_SECRET", ""),
		SessionIdle:   time.Duration(getEnvAsInt("SESSION_IDLE_MINUTES", 30)) * time.Minute,

		StoreDriver:       strings.ToLower(getEnv("STORE_DRIVER", StoreMongo)),
		MongoURI:          mongoURI(),
		MongoDatabase:     getEnv("MONGODB_DATABASE", "diary-we-write"),
		PostgresDSN:       getEnv("POSTGRES_DSN", ""),
		DBConnectTimeout:  time.Duration(getEnvAsInt("DB_CONNECT_TIMEOUT_SECONDS", 10)) * time.Second,
		RedisURL:          getEnv("REDIS_URL", ""),
		DiaryTimezoneName: getEnv("DIARY_TIMEZONE", ""),

		Google: OAuthClient{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		},
		Facebook: OAuthClient{
			ClientID:     getEnv("FACEBOOK_APP_ID", ""),
			ClientSecret: getEnv("FACEBOOK_APP_SECRET", ""),
		},

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	// 開発時はシークレット未設定でも起動できるようにする
	if config.SessionSecret == "" {
		config.SessionSecret = devSessionSecret
	}

	return config, nil
}

// mongoURI は MONGODB_URI、DB_USER/DB_PWD、ローカルの順に接続先を決めます。
func mongoURI() string {
	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		return uri
	}
	if user := os.Getenv("DB_USER"); user != "" {
		host := getEnv("DB_HOST", "cluster0.fofmj.mongodb.net")
		creds := url.UserPassword(user, os.Getenv("DB_PWD"))
		return fmt.Sprintf("mongodb+srv://%s@%s/", creds.String(), host)
	}
	return "mongodb://localhost:27017"
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for the mongo store")
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want mongo, postgres or memory)", c.StoreDriver)
	}

	for _, proxy := range c.TrustedProxies() {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			return fmt.Errorf("invalid TRUSTED_PROXIES entry %q", proxy)
		}
	}

	if c.SessionIdle <= 0 {
		return fmt.Errorf("SESSION_IDLE_MINUTES must be positive")
	}

	if c.DiaryTimezoneName != "" {
		if _, err := time.LoadLocation(c.DiaryTimezoneName); err != nil {
			return fmt.Errorf("invalid DIARY_TIMEZONE %q: %w", c.DiaryTimezoneName, err)
		}
	}

	// 本番環境では厳格にチェックする
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.StoreDriver == StoreMemory {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in release mode")
		}
	}

	return nil
}

// Location は日付キーの計算に使うタイムゾーンを返します。
func (c *Config) Location() *time.Location {
	if c.DiaryTimezoneName == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.DiaryTimezoneName)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) baseURL() string {
	if base := strings.TrimRight(c.PublicBaseURL, "/"); base != "" {
		return base
	}
	return fmt.Sprintf("%s:%s", strings.TrimRight(c.Domain, "/"), c.Port)
}

// CallbackURL は OAuth プロバイダーからの戻り先URLを返します。
func (c *Config) CallbackURL(provider string) string {
	return fmt.Sprintf("%s/auth/%s/diaries", c.baseURL(), provider)
}

// SecureCookies は公開URLが https の場合に true を返します。
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.baseURL(), "https://")
}

// AllowedOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// TrustedProxies は信用するプロキシを返します。未設定なら nil です。
func (c *Config) TrustedProxies() []string {
	return splitList(c.TrustedProxiesList)
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
