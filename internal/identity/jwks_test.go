package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
)

// jwksFixture はテスト用の署名鍵とJWKSサーバー。
type jwksFixture struct {
	key      jwk.Key
	verifier *JWKSVerifier
}

// newJWKSFixture はES256の鍵ペアを生成し、公開鍵を配信するテストサーバーとJWKSVerifierを用意する。
func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()

	raw, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("鍵の生成に失敗: %v", err)
	}
	key, err := jwk.FromRaw(raw)
	if err != nil {
		t.Fatalf("JWKへの変換に失敗: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, "test-kid"); err != nil {
		t.Fatalf("kidの設定に失敗: %v", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.ES256); err != nil {
		t.Fatalf("algの設定に失敗: %v", err)
	}
	pub, err := key.PublicKey()
	if err != nil {
		t.Fatalf("公開鍵の取得に失敗: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		t.Fatalf("JWKSへの追加に失敗: %v", err)
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	v, err := NewJWKSVerifier(ctx, ts.URL, testChannelID, 5*time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewJWKSVerifier()でエラーが発生: %v", err)
	}
	return &jwksFixture{key: key, verifier: v}
}

// sign はクレームを設定したIDトークンを署名する。
func (f *jwksFixture) sign(t *testing.T, build func(*jwt.Builder) *jwt.Builder) string {
	t.Helper()

	tok, err := build(jwt.NewBuilder()).Build()
	if err != nil {
		t.Fatalf("トークンの構築に失敗: %v", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.ES256, f.key))
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return string(signed)
}

// validClaims は検証に成功するクレームを設定する。
func validClaims(b *jwt.Builder) *jwt.Builder {
	return b.
		Issuer(LineIssuer).
		Subject("U1234567890").
		Audience([]string{testChannelID}).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour))
}

// TestJWKSVerifier_Verify はJWKSVerifierのVerifyメソッドを検証する。
func TestJWKSVerifier_Verify(t *testing.T) {
	t.Parallel()

	t.Run("正しく署名されたIDトークンからClaimsを取り出せること", func(t *testing.T) {
		t.Parallel()

		f := newJWKSFixture(t)
		token := f.sign(t, func(b *jwt.Builder) *jwt.Builder {
			return validClaims(b).Claim("name", "テストユーザー").Claim("email", "user@line.test")
		})

		claims, err := f.verifier.Verify(context.Background(), token)
		if err != nil {
			t.Fatalf("Verify()でエラーが発生: %v", err)
		}
		if claims.Subject != "U1234567890" {
			t.Errorf("Subject = %q, want %q", claims.Subject, "U1234567890")
		}
		if claims.Name != "テストユーザー" {
			t.Errorf("Name = %q, want %q", claims.Name, "テストユーザー")
		}
		if claims.Email != "user@line.test" {
			t.Errorf("Email = %q, want %q", claims.Email, "user@line.test")
		}
		if claims.Audience != testChannelID {
			t.Errorf("Audience = %q, want %q", claims.Audience, testChannelID)
		}
	})

	t.Run("表示名が無い場合はUserになること", func(t *testing.T) {
		t.Parallel()

		f := newJWKSFixture(t)
		claims, err := f.verifier.Verify(context.Background(), f.sign(t, validClaims))
		if err != nil {
			t.Fatalf("Verify()でエラーが発生: %v", err)
		}
		if claims.Name != "User" {
			t.Errorf("Name = %q, want %q", claims.Name, "User")
		}
	})

	t.Run("期限切れのトークンはErrInvalidになること", func(t *testing.T) {
		t.Parallel()

		f := newJWKSFixture(t)
		token := f.sign(t, func(b *jwt.Builder) *jwt.Builder {
			return validClaims(b).Expiration(time.Now().Add(-time.Minute))
		})

		if _, err := f.verifier.Verify(context.Background(), token); !errors.Is(err, ErrInvalid) {
			t.Fatalf("ErrInvalidが返るべき: %v", err)
		}
	})

	t.Run("audienceが一致しない場合はErrInvalidになること", func(t *testing.T) {
		t.Parallel()

		f := newJWKSFixture(t)
		token := f.sign(t, func(b *jwt.Builder) *jwt.Builder {
			return validClaims(b).Audience([]string{"other-channel"})
		})

		if _, err := f.verifier.Verify(context.Background(), token); !errors.Is(err, ErrInvalid) {
			t.Fatalf("ErrInvalidが返るべき: %v", err)
		}
	})

	t.Run("発行者が異なる場合はErrInvalidになること", func(t *testing.T) {
		t.Parallel()

		f := newJWKSFixture(t)
		token := f.sign(t, func(b *jwt.Builder) *jwt.Builder {
			return validClaims(b).Issuer("https://evil.test")
		})

		if _, err := f.verifier.Verify(context.Background(), token); !errors.Is(err, ErrInvalid) {
			t.Fatalf("ErrInvalidが返るべき: %v", err)
		}
	})

	t.Run("別の鍵で署名されたトークンはErrInvalidになること", func(t *testing.T) {
		t.Parallel()

		f := newJWKSFixture(t)
		other := newJWKSFixture(t)
		token := other.sign(t, validClaims)

		if _, err := f.verifier.Verify(context.Background(), token); !errors.Is(err, ErrInvalid) {
			t.Fatalf("ErrInvalidが返るべき: %v", err)
		}
	})

	t.Run("JWT形式でない文字列はErrInvalidになること", func(t *testing.T) {
		t.Parallel()

		f := newJWKSFixture(t)
		if _, err := f.verifier.Verify(context.Background(), "not-a-jwt"); !errors.Is(err, ErrInvalid) {
			t.Fatalf("ErrInvalidが返るべき: %v", err)
		}
	})
}
