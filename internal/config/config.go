// Package config はgatewayの実行時設定を環境変数から読み込む。
//
// 設定は起動時に1回だけ読み込み、以降は変更しない値として各コンポーネントに渡す。
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// IdentityMode はIDトークンの検証方式。
type IdentityMode string

const (
	// IdentityModeRemote はLINEの検証エンドポイントに問い合わせる方式。
	IdentityModeRemote IdentityMode = "remote"
	// IdentityModeJWKS は公開鍵(JWKS)でローカルに署名を検証する方式。
	IdentityModeJWKS IdentityMode = "jwks"
)

// デフォルト値。
const (
	defaultPort            = "3000"
	defaultSessionTTL      = "5m"
	defaultRateWindow      = 15 * time.Minute
	defaultRateMax         = 100
	defaultChatURL         = "https://udify.app/chatbot/xxxx"
	defaultVerifyURL       = "https://api.line.me/oauth2/v2.1/verify"
	defaultJWKSURL         = "https://api.line.me/oauth2/v2.1/certs"
	defaultVerifyTimeout   = 10 * time.Second
	defaultUpstreamTimeout = 10 * time.Second
	defaultShutdown        = 10 * time.Second
	defaultStaticDir       = "public"
	devOrigin              = "http://localhost:3000"
)

// defaultOrigins はALLOWED_ORIGINSが未設定の場合に許可するオリジン。
var defaultOrigins = []string{"https://line.me", "https://liff.line.me"}

// Config はgatewayの全設定。
type Config struct {
	// Environment は実行環境（production / development）。
	Environment string
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// ChannelID はLINEログインチャネルのID。IDトークンのaudと一致する必要がある。
	ChannelID string
	// JWTSecret はセッショントークン署名用の共有秘密鍵。
	JWTSecret string
	// SessionTTL はセッショントークンの有効期間。
	SessionTTL time.Duration
	// SessionTTLText は設定されたとおりの有効期間表記（例: "5m"）。
	SessionTTLText string
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// TrustedProxies はX-Forwarded-Forを信頼するプロキシのIPまたはCIDR。
	// 空の場合は接続元のIPをそのままクライアントIPとして扱う。
	TrustedProxies []string
	// RateLimitWindow は/authのレート制限ウィンドウ。
	RateLimitWindow time.Duration
	// RateLimitMax はウィンドウあたりの最大リクエスト数。
	RateLimitMax int
	// ChatURL はプロキシ対象の上流チャットページURL。
	ChatURL string
	// UpstreamTimeout は上流チャットページ取得のタイムアウト。
	UpstreamTimeout time.Duration
	// IdentityMode はIDトークンの検証方式。
	IdentityMode IdentityMode
	// VerifyURL はLINEのIDトークン検証エンドポイント。
	VerifyURL string
	// JWKSURL はLINEのIDトークン署名用公開鍵のURL。
	JWKSURL string
	// VerifyTimeout はIDトークン検証のタイムアウト。
	VerifyTimeout time.Duration
	// StaticDir はLIFFフロントエンドの静的ファイルを配置するディレクトリ。
	StaticDir string
	// ShutdownTimeout はグレースフルシャットダウンの待機上限。
	ShutdownTimeout time.Duration
}

// Load は環境変数（および存在すれば.envファイル）から設定を読み込み検証する。
// 必須項目が欠けている場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnvOr("APP_ENV", "development")
	ttlText := getEnvOr("JWT_EXPIRES_IN", defaultSessionTTL)

	var errs []error
	ttl, err := ParseTTL(ttlText)
	if err != nil {
		errs = append(errs, fmt.Errorf("JWT_EXPIRES_IN: %w", err))
	}
	windowMS, err := getEnvInt("RATE_LIMIT_WINDOW_MS", int(defaultRateWindow/time.Millisecond))
	if err != nil {
		errs = append(errs, err)
	}
	rateMax, err := getEnvInt("RATE_LIMIT_MAX", defaultRateMax)
	if err != nil {
		errs = append(errs, err)
	}
	verifyTimeout, err := getEnvDuration("LINE_VERIFY_TIMEOUT", defaultVerifyTimeout)
	if err != nil {
		errs = append(errs, err)
	}
	upstreamTimeout, err := getEnvDuration("UPSTREAM_TIMEOUT", defaultUpstreamTimeout)
	if err != nil {
		errs = append(errs, err)
	}
	shutdownTimeout, err := getEnvDuration("SHUTDOWN_TIMEOUT", defaultShutdown)
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Environment:     env,
		Port:            getEnvOr("PORT", defaultPort),
		ChannelID:       os.Getenv("LINE_CHANNEL_ID"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		SessionTTL:      ttl,
		SessionTTLText:  ttlText,
		AllowedOrigins:  allowedOrigins(os.Getenv("ALLOWED_ORIGINS"), env),
		TrustedProxies:  splitList(os.Getenv("TRUSTED_PROXIES")),
		RateLimitWindow: time.Duration(windowMS) * time.Millisecond,
		RateLimitMax:    rateMax,
		ChatURL:         getEnvOr("DIFY_CHAT_URL", defaultChatURL),
		UpstreamTimeout: upstreamTimeout,
		IdentityMode:    IdentityMode(getEnvOr("IDENTITY_VERIFY_MODE", string(IdentityModeRemote))),
		VerifyURL:       getEnvOr("LINE_VERIFY_URL", defaultVerifyURL),
		JWKSURL:         getEnvOr("LINE_JWKS_URL", defaultJWKSURL),
		VerifyTimeout:   verifyTimeout,
		StaticDir:       getEnvOr("STATIC_DIR", defaultStaticDir),
		ShutdownTimeout: shutdownTimeout,
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は必須項目と値の範囲を検証する。
func (c *Config) Validate() error {
	var errs []error
	if c.ChannelID == "" {
		errs = append(errs, errors.New("LINE_CHANNEL_ID is not set in environment variables"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is not set in environment variables"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRES_IN must be positive"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW_MS must be positive"))
	}
	if c.RateLimitMax <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX must be positive"))
	}
	if len(c.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("ALLOWED_ORIGINS must contain at least one origin"))
	}
	for _, o := range c.AllowedOrigins {
		if !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			errs = append(errs, fmt.Errorf("ALLOWED_ORIGINS: invalid origin %q", o))
		}
	}
	for _, p := range c.TrustedProxies {
		if !validProxy(p) {
			errs = append(errs, fmt.Errorf("TRUSTED_PROXIES: invalid IP or CIDR %q", p))
		}
	}
	switch c.IdentityMode {
	case IdentityModeRemote, IdentityModeJWKS:
	default:
		errs = append(errs, fmt.Errorf("IDENTITY_VERIFY_MODE: unknown mode %q", c.IdentityMode))
	}
	return errors.Join(errs...)
}

// IsProduction は本番環境で動作しているかどうかを返す。
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ttlPattern は数値と省略可能な単位からなる有効期間の表記。単位が無い場合はミリ秒として扱う。
var ttlPattern = regexp.MustCompile(`(?i)^(-?(?:\d+)?\.?\d+) *(milliseconds?|msecs?|ms|seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|w|years?|yrs?|y)?$`)

// ttlUnits は単位ごとの長さ。
var ttlUnits = map[string]time.Duration{
	"y": 8766 * time.Hour,
	"w": 7 * 24 * time.Hour,
	"d": 24 * time.Hour,
	"h": time.Hour,
	"m": time.Minute,
	"s": time.Second,
}

// ParseTTL は有効期間の表記を解析する。
// "5m"、"2 days"、"1w"のような数値と単位の組み合わせを受け付け、単位の無い数値はミリ秒として扱う。
// "1h30m"のようなGoのduration表記も受け付ける。
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	m := ttlPattern.FindStringSubmatch(s)
	if m == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return d, nil
	}

	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(n * float64(ttlUnit(strings.ToLower(m[2])))), nil
}

// ttlUnit は単位の表記に対応する長さを返す。
func ttlUnit(unit string) time.Duration {
	switch {
	case unit == "", strings.HasPrefix(unit, "ms"), strings.HasPrefix(unit, "milli"):
		return time.Millisecond
	case strings.HasPrefix(unit, "mi"):
		return time.Minute
	default:
		return ttlUnits[unit[:1]]
	}
}

// allowedOrigins はカンマ区切りのオリジン一覧を解析する。
// 本番環境以外ではローカル開発用のオリジンを追加する。
func allowedOrigins(raw, env string) []string {
	origins := splitList(raw)
	if len(origins) == 0 {
		origins = append(origins, defaultOrigins...)
	}
	if env != "production" {
		origins = append(origins, devOrigin)
	}
	return origins
}

// splitList はカンマ区切りの値を空要素を除いて分割する。
func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// validProxy はIPアドレスまたはCIDR表記として解釈できるかを返す。
func validProxy(s string) bool {
	if net.ParseIP(s) != nil {
		return true
	}
	_, _, err := net.ParseCIDR(s)
	return err == nil
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}
