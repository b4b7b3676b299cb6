package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/nao1215/liff-gateway/pkg/httpclient"
	"go.uber.org/zap"
)

// verifyResponse はLINEのIDトークン検証エンドポイントのレスポンス。
type verifyResponse struct {
	Iss              string `json:"iss"`
	Sub              string `json:"sub"`
	Aud              string `json:"aud"`
	Exp              int64  `json:"exp"`
	Iat              int64  `json:"iat"`
	Name             string `json:"name"`
	Picture          string `json:"picture"`
	Email            string `json:"email"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// RemoteVerifier はLINEの検証エンドポイントにIDトークンを送信して検証する。
// 1回の検証で1回だけ通信し、リトライは行わない。
type RemoteVerifier struct {
	// client は検証エンドポイント用のHTTPクライアント。
	client *httpclient.Client
	// channelID はaudと一致すべきチャネルID。
	channelID string
	// logger は検証失敗を記録するロガー。
	logger *zap.Logger
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// NewRemoteVerifier は新しいRemoteVerifierを生成する。
// endpointには検証エンドポイントの完全なURLを指定する。
func NewRemoteVerifier(endpoint, channelID string, timeout time.Duration, logger *zap.Logger) *RemoteVerifier {
	return &RemoteVerifier{
		client:    httpclient.New(endpoint, httpclient.WithTimeout(timeout)),
		channelID: channelID,
		logger:    logger,
		now:       time.Now,
	}
}

// Verify はIDトークンを検証してClaimsを返す。
func (v *RemoteVerifier) Verify(ctx context.Context, idToken string) (*Claims, error) {
	claims, err := v.verify(ctx, idToken)
	if err != nil {
		v.logger.Warn("LINE IDトークンの検証に失敗", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return claims, nil
}

func (v *RemoteVerifier) verify(ctx context.Context, idToken string) (*Claims, error) {
	form := url.Values{
		"id_token":  {idToken},
		"client_id": {v.channelID},
	}

	var resp verifyResponse
	if err := v.client.PostForm(ctx, "", form, &resp); err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			var body verifyResponse
			if json.Unmarshal(se.Body, &body) == nil && body.ErrorDescription != "" {
				return nil, fmt.Errorf("status=%d: %s", se.StatusCode, body.ErrorDescription)
			}
		}
		return nil, err
	}

	if resp.Error != "" {
		if resp.ErrorDescription != "" {
			return nil, errors.New(resp.ErrorDescription)
		}
		return nil, errors.New("invalid ID token")
	}
	if resp.Sub == "" {
		return nil, errors.New("subject is missing")
	}

	expiresAt := time.Unix(resp.Exp, 0)
	if !expiresAt.After(v.now()) {
		return nil, errors.New("ID token has expired")
	}
	if resp.Aud != v.channelID {
		return nil, errors.New("invalid audience")
	}

	return &Claims{
		Subject:   resp.Sub,
		Name:      displayName(resp.Name),
		Picture:   resp.Picture,
		Email:     resp.Email,
		Audience:  resp.Aud,
		ExpiresAt: expiresAt,
	}, nil
}
