// Package entitlement はユーザーがチャット機能を利用できるか（有料会員かどうか）を判定する。
//
// 現時点では課金状態のデータストアを持たず、AlwaysEntitledが全ユーザーを利用可能として扱う。
// 実際の課金システムと連携する場合はCheckerを実装して差し替える。
package entitlement

import (
	"context"

	"go.uber.org/zap"
)

// Checker はユーザーの利用資格を判定するインターフェース。
type Checker interface {
	// IsEntitled はsubjectIDのユーザーが利用資格を持つかを返す。
	// 判定そのものに失敗した場合はエラーを返す。
	IsEntitled(ctx context.Context, subjectID string) (bool, error)
}

// CheckerFunc は関数をCheckerとして扱うためのアダプター。
type CheckerFunc func(ctx context.Context, subjectID string) (bool, error)

// IsEntitled はf(ctx, subjectID)を呼び出す。
func (f CheckerFunc) IsEntitled(ctx context.Context, subjectID string) (bool, error) {
	return f(ctx, subjectID)
}

// AlwaysEntitled は全ユーザーを利用可能として扱うChecker。
type AlwaysEntitled struct {
	logger *zap.Logger
}

// NewAlwaysEntitled は新しいAlwaysEntitledを生成する。
func NewAlwaysEntitled(logger *zap.Logger) *AlwaysEntitled {
	return &AlwaysEntitled{logger: logger}
}

// IsEntitled は常にtrueを返す。
func (a *AlwaysEntitled) IsEntitled(_ context.Context, subjectID string) (bool, error) {
	a.logger.Debug("利用資格を確認", zap.String("user_id", subjectID))
	return true, nil
}
