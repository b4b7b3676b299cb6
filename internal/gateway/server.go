package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/liff-gateway/internal/config"
	"github.com/nao1215/liff-gateway/internal/entitlement"
	"github.com/nao1215/liff-gateway/internal/identity"
	"github.com/nao1215/liff-gateway/pkg/httpclient"
	"github.com/nao1215/liff-gateway/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// processStartedAt はプロセスの起動時刻。ヘルスチェックのuptimeの起点。
var processStartedAt = time.Now()

// upstreamMaxRedirects は上流チャットページ取得時に追従するリダイレクトの上限。
const upstreamMaxRedirects = 5

// Server はLIFF認証ゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg は起動時に読み込んだ設定。
	cfg *config.Config
	// identity はLINE IDトークンの検証器。
	identity identity.Verifier
	// entitlement は利用資格の判定器。
	entitlement entitlement.Checker
	// tokens はセッショントークンの発行・検証を行う。
	tokens *middleware.TokenIssuer
	// upstream は上流チャットページ取得用のHTTPクライアント。
	upstream *httpclient.Client
	// logger は構造化ロガー。
	logger *zap.Logger
	// metrics はHTTPリクエストのメトリクス。
	metrics *middleware.Metrics
	// limiter は/authのレート制限。
	limiter *middleware.RateLimiter
	// authOutcomes は/authの結果別カウンター。
	authOutcomes *prometheus.CounterVec
	// proxyOutcomes は/chat-proxyの結果別カウンター。
	proxyOutcomes *prometheus.CounterVec
}

// NewServer は新しいGatewayサーバーを生成する。
// ctxはJWKSキャッシュなど、バックグラウンド処理の寿命を決める。
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	verifier, err := newVerifier(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("IDトークン検証器の初期化に失敗: %w", err)
	}
	return newServer(cfg, logger, verifier, entitlement.NewAlwaysEntitled(logger))
}

// newVerifier は設定された検証方式に応じたidentity.Verifierを生成する。
func newVerifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (identity.Verifier, error) {
	switch cfg.IdentityMode {
	case config.IdentityModeJWKS:
		v, err := identity.NewJWKSVerifier(ctx, cfg.JWKSURL, cfg.ChannelID, cfg.VerifyTimeout, logger)
		if err != nil {
			return nil, err
		}
		return v, nil
	case config.IdentityModeRemote:
		return identity.NewRemoteVerifier(cfg.VerifyURL, cfg.ChannelID, cfg.VerifyTimeout, logger), nil
	default:
		return nil, fmt.Errorf("未知の検証方式: %q", cfg.IdentityMode)
	}
}

// newServer は依存コンポーネントを受け取ってサーバーを組み立てる。
func newServer(cfg *config.Config, logger *zap.Logger, verifier identity.Verifier, checker entitlement.Checker) (*Server, error) {
	s := &Server{
		router:      gin.New(),
		cfg:         cfg,
		identity:    verifier,
		entitlement: checker,
		tokens:      middleware.NewTokenIssuer(cfg.JWTSecret, cfg.SessionTTL),
		upstream: httpclient.New(cfg.ChatURL,
			httpclient.WithTimeout(cfg.UpstreamTimeout),
			httpclient.WithMaxRedirects(upstreamMaxRedirects),
		),
		logger:  logger,
		metrics: middleware.NewMetrics(),
		limiter: middleware.NewRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMax),
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liff_auth_requests_total",
			Help: "Total number of /auth requests by outcome.",
		}, []string{"outcome"}),
		proxyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liff_chat_proxy_requests_total",
			Help: "Total number of /chat-proxy requests by outcome.",
		}, []string{"outcome"}),
	}
	// 信頼するプロキシが無い場合、X-Forwarded-Forは無視して接続元IPをクライアントIPとする
	if err := s.router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("信頼するプロキシの設定に失敗: %w", err)
	}
	s.metrics.Registerer().MustRegister(s.authOutcomes, s.proxyOutcomes)
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルシャットダウンする。
// 処理中のリクエストはShutdownTimeoutまで待機する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Gatewayサービスを起動します",
			zap.String("addr", srv.Addr),
			zap.String("env", s.cfg.Environment),
			zap.String("identity_mode", string(s.cfg.IdentityMode)),
			zap.Strings("allowed_origins", s.cfg.AllowedOrigins),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("シャットダウンを開始します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("グレースフルシャットダウンに失敗: %w", err)
	}
	s.logger.Info("HTTPサーバーを停止しました")
	return nil
}

// setupMiddleware は全リクエストに適用するミドルウェアを設定する。
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger, !s.cfg.IsProduction()))
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(s.metrics.Middleware())
	s.router.Use(middleware.CORS(s.cfg.AllowedOrigins))
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())

	// LINE IDトークンとセッショントークンの交換（レート制限あり）
	s.router.POST("/auth", s.limiter.Handler(), s.handleAuth())

	// チャットページのプロキシ
	s.router.GET("/chat-proxy", s.recoverPage(), s.handleChatProxy())

	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// LIFFフロントエンドの静的ファイルと404
	s.router.NoRoute(s.handleNoRoute())
}

// handleHealth はヘルスチェックのハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(processStartedAt).Seconds(),
		})
	}
}

// handleNoRoute はルート未定義のパスを処理するハンドラを返す。
// GET/HEADでSTATIC_DIR配下にファイルが存在すればそれを返し、無ければ404を返す。
func (s *Server) handleNoRoute() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			if file, ok := s.staticFile(c.Request.URL.Path); ok {
				c.File(file)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "The requested resource was not found",
			"path":    c.Request.URL.Path,
		})
	}
}

// staticFile はリクエストパスに対応する静的ファイルのパスを返す。
// パスはClean済みのルート相対パスとして解釈するため、STATIC_DIRの外は参照しない。
func (s *Server) staticFile(urlPath string) (string, bool) {
	if s.cfg.StaticDir == "" {
		return "", false
	}
	clean := path.Clean("/" + urlPath)
	if clean == "/" {
		clean = "/index.html"
	}
	file := filepath.Join(s.cfg.StaticDir, filepath.FromSlash(clean))
	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		return "", false
	}
	return file, true
}
