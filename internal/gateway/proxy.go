package gateway

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// defaultUpstreamContentType は上流がContent-Typeを返さなかった場合の値。
const defaultUpstreamContentType = "text/html; charset=utf-8"

// upstreamHeader は上流チャットページへ送るリクエストヘッダーを返す。
func upstreamHeader() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", "Mozilla/5.0 (compatible; LIFF-Chat-Proxy/1.0)")
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "ja,en;q=0.9")
	return h
}

// handleChatProxy はセッショントークンを検証し、上流のチャットページを中継するハンドラを返す。
// 課金状態はトークン発行時に署名されたisPaidクレームで判定し、改めて問い合わせはしない。
func (s *Server) handleChatProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			s.proxyOutcomes.WithLabelValues("bad_request").Inc()
			s.renderPage(c, http.StatusBadRequest, pageTokenRequired)
			return
		}

		claims, err := s.tokens.Verify(token)
		if err != nil {
			s.logger.Warn("セッショントークンの検証に失敗", zap.Error(err))
			s.proxyOutcomes.WithLabelValues("token_invalid").Inc()
			s.renderPage(c, http.StatusForbidden, pageAccessDenied)
			return
		}
		if !claims.IsPaid {
			s.proxyOutcomes.WithLabelValues("not_paid").Inc()
			s.renderPage(c, http.StatusForbidden, pageSubscriptionRequired)
			return
		}

		// クライアントが切断しても上流への取得はタイムアウトまで継続する
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), s.cfg.UpstreamTimeout)
		defer cancel()

		resp, err := s.upstream.Fetch(ctx, "", upstreamHeader())
		if err != nil {
			s.logger.Error("チャットページの取得に失敗",
				zap.String("user_id", claims.UserID),
				zap.Error(err),
			)
			s.proxyOutcomes.WithLabelValues("upstream_unavailable").Inc()
			// エラーには上流のURLが含まれるため、原因はログにのみ残す
			s.renderPage(c, http.StatusServiceUnavailable, pageChatUnavailable)
			return
		}

		contentType := resp.ContentType
		if contentType == "" {
			contentType = defaultUpstreamContentType
		}
		c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
		s.proxyOutcomes.WithLabelValues("success").Inc()
		c.Data(http.StatusOK, contentType, resp.Body)
	}
}

// recoverPage は/chat-proxyのパニックを回復し、HTMLのシステムエラーページを返すミドルウェアを返す。
func (s *Server) recoverPage() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("チャットプロキシでパニックが発生",
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				s.proxyOutcomes.WithLabelValues("error").Inc()
				c.Abort()
				s.renderPage(c, http.StatusInternalServerError, pageSystemError)
			}
		}()
		c.Next()
	}
}
