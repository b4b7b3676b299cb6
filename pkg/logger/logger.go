// Package logger はzapベースの構造化ロガーを生成する。
package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// New は実行環境に応じたロガーを生成する。
// productionではJSON形式、それ以外では開発者向けのコンソール形式で出力する。
func New(env string) (*zap.Logger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if env == "production" {
		l, err = zap.NewProduction()
	} else {
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	return l, nil
}
