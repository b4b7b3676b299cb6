// LIFF認証ゲートウェイのエントリポイント。
// LINEのIDトークンをセッショントークンに交換し、有料会員にだけチャットページを中継する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/liff-gateway/internal/config"
	"github.com/nao1215/liff-gateway/internal/gateway"
	"github.com/nao1215/liff-gateway/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	l, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = l.Sync() }()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := gateway.NewServer(ctx, cfg, l)
	if err != nil {
		l.Fatal("Gatewayサーバーの初期化に失敗", zap.Error(err))
	}

	if err := server.Run(ctx); err != nil {
		l.Fatal("Gatewayサービスが異常終了しました", zap.Error(err))
	}
}
