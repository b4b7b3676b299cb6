// Package identity はLINEが発行したIDトークンを検証し、ユーザー情報を取り出す。
//
// 検証方式はLINEの検証エンドポイントに問い合わせるRemoteVerifierと、
// 公開鍵(JWKS)を使ってローカルで署名を検証するJWKSVerifierの2種類がある。
// いずれの方式でも、通信エラーとトークン自体の不正は区別せずErrInvalidとして返す。
package identity

import (
	"context"
	"errors"
	"time"
)

// ErrInvalid はIDトークンが不正・期限切れ・audience不一致、あるいは検証できなかったことを表す。
var ErrInvalid = errors.New("IDトークンが無効です")

// defaultName は表示名が取得できない場合に使う名前。
const defaultName = "User"

// Claims は検証済みのIDトークンから取り出したユーザー情報。
type Claims struct {
	// Subject はLINEユーザーID。
	Subject string
	// Name は表示名。取得できない場合は"User"。
	Name string
	// Picture はプロフィール画像のURL。
	Picture string
	// Email はメールアドレス。email権限がない場合は空。
	Email string
	// Audience はトークンの発行先チャネルID。
	Audience string
	// ExpiresAt はトークンの有効期限。
	ExpiresAt time.Time
}

// Verifier はIDトークンを検証するインターフェース。
type Verifier interface {
	// Verify はIDトークンを検証してClaimsを返す。失敗時はErrInvalidをラップしたエラーを返す。
	Verify(ctx context.Context, idToken string) (*Claims, error)
}

// displayName は空の表示名をデフォルト値で補う。
func displayName(name string) string {
	if name == "" {
		return defaultName
	}
	return name
}
