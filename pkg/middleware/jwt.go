package middleware

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionIssuer はセッショントークンのissクレームに設定する固定値。
const SessionIssuer = "claude-liff-auth"

// PermissionChatAccess はチャットページへのアクセス権限。
const PermissionChatAccess = "chat_access"

// ErrTokenInvalid はセッショントークンの署名・有効期限・発行者のいずれかが不正であることを表す。
var ErrTokenInvalid = errors.New("セッショントークンが無効です")

// SessionClaims はセッショントークンのクレーム（ペイロード）を表す。
// 発行後は変更されず、サーバー側には保存されない。
type SessionClaims struct {
	jwt.RegisteredClaims
	// UserID はIDプロバイダーが発行したユーザーの一意識別子。
	UserID string `json:"userId"`
	// UserName はユーザーの表示名。
	UserName string `json:"userName"`
	// IsPaid は発行時点で課金済みだったかどうか。
	IsPaid bool `json:"isPaid"`
	// Permissions は付与された権限の一覧。
	Permissions []string `json:"permissions"`
}

// SessionInput はセッショントークン発行時に埋め込む値。
type SessionInput struct {
	UserID      string
	UserName    string
	IsPaid      bool
	Permissions []string
}

// TokenIssuer は共有秘密鍵でセッショントークンを発行・検証する。
type TokenIssuer struct {
	// secret はHS256署名用の秘密鍵。
	secret []byte
	// ttl はトークンの有効期間。
	ttl time.Duration
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// NewTokenIssuer は新しいTokenIssuerを生成する。
// secretが空でないことは設定読み込み時に保証する。
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue はセッショントークンを発行する。
// jtiには毎回ランダムなUUIDを設定する。
func (i *TokenIssuer) Issue(in SessionInput) (string, error) {
	now := i.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    SessionIssuer,
		},
		UserID:      in.UserID,
		UserName:    in.UserName,
		IsPaid:      in.IsPaid,
		Permissions: in.Permissions,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("セッショントークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Verify はセッショントークンを検証し、埋め込まれたクレームを返す。
// 失敗した場合はErrTokenInvalidをラップしたエラーを返す。
func (i *TokenIssuer) Verify(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(SessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
