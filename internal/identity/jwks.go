package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
)

// LineIssuer はLINEが発行するIDトークンのissクレーム。
const LineIssuer = "https://access.line.me"

// jwksMinRefresh は公開鍵を再取得する最小間隔。
const jwksMinRefresh = 15 * time.Minute

// JWKSVerifier はLINEの公開鍵(JWKS)を使ってIDトークンの署名をローカルで検証する。
// 公開鍵はjwk.Cacheでキャッシュし、検証ごとの通信は発生しない。
type JWKSVerifier struct {
	// cache は公開鍵のキャッシュ。
	cache *jwk.Cache
	// jwksURL は公開鍵の取得先URL。
	jwksURL string
	// channelID はaudと一致すべきチャネルID。
	channelID string
	// logger は検証失敗を記録するロガー。
	logger *zap.Logger
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// NewJWKSVerifier は新しいJWKSVerifierを生成する。
// ctxはキャッシュのバックグラウンド更新の寿命を決める。
func NewJWKSVerifier(ctx context.Context, jwksURL, channelID string, timeout time.Duration, logger *zap.Logger) (*JWKSVerifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(
		jwksURL,
		jwk.WithMinRefreshInterval(jwksMinRefresh),
		jwk.WithHTTPClient(&http.Client{Timeout: timeout}),
	); err != nil {
		return nil, fmt.Errorf("JWKSの登録に失敗: %w", err)
	}
	return &JWKSVerifier{
		cache:     cache,
		jwksURL:   jwksURL,
		channelID: channelID,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Verify はIDトークンの署名・発行者・audience・有効期限を検証してClaimsを返す。
func (v *JWKSVerifier) Verify(ctx context.Context, idToken string) (*Claims, error) {
	claims, err := v.verify(ctx, idToken)
	if err != nil {
		v.logger.Warn("LINE IDトークンの検証に失敗", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return claims, nil
}

func (v *JWKSVerifier) verify(ctx context.Context, idToken string) (*Claims, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("JWKSの取得に失敗: %w", err)
	}

	token, err := jwt.Parse([]byte(idToken),
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
		jwt.WithIssuer(LineIssuer),
		jwt.WithAudience(v.channelID),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithClock(jwt.ClockFunc(v.now)),
	)
	if err != nil {
		return nil, err
	}
	if token.Subject() == "" {
		return nil, errors.New("subject is missing")
	}

	return &Claims{
		Subject:   token.Subject(),
		Name:      displayName(stringClaim(token, "name")),
		Picture:   stringClaim(token, "picture"),
		Email:     stringClaim(token, "email"),
		Audience:  v.channelID,
		ExpiresAt: token.Expiration(),
	}, nil
}

// stringClaim はプライベートクレームを文字列として取り出す。
func stringClaim(token jwt.Token, name string) string {
	v, ok := token.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
