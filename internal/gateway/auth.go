package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/liff-gateway/pkg/middleware"
	"go.uber.org/zap"
)

// authRequest は/authのリクエストボディ。JSONとフォーム形式の両方を受け付ける。
type authRequest struct {
	IDToken string `json:"idToken" form:"idToken"`
}

// handleAuth はLINE IDトークンを検証し、セッショントークンを発行するハンドラを返す。
// IDトークンの検証、利用資格の確認、トークン発行の順に処理し、
// いずれかが失敗した時点でエラーを返す。
func (s *Server) handleAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req authRequest
		if err := c.ShouldBind(&req); err != nil || strings.TrimSpace(req.IDToken) == "" {
			s.authOutcomes.WithLabelValues("bad_request").Inc()
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Bad Request",
				"message": "ID token is required",
			})
			return
		}

		// クライアントが切断してもIDトークンの検証と利用資格の確認は最後まで行う
		ctx := context.WithoutCancel(c.Request.Context())
		claims, err := s.identity.Verify(ctx, req.IDToken)
		if err != nil {
			s.authOutcomes.WithLabelValues("unauthorized").Inc()
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "Invalid or expired ID token",
			})
			return
		}

		entitled, err := s.entitlement.IsEntitled(ctx, claims.Subject)
		if err != nil {
			s.logger.Error("利用資格の確認に失敗", zap.String("user_id", claims.Subject), zap.Error(err))
			s.authOutcomes.WithLabelValues("entitlement_error").Inc()
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Internal Server Error",
				"message": "Failed to check payment status",
			})
			return
		}
		if !entitled {
			s.authOutcomes.WithLabelValues("forbidden").Inc()
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "Forbidden",
				"message": "Chat service is available for paid users only",
				"isPaid":  false,
			})
			return
		}

		token, err := s.tokens.Issue(middleware.SessionInput{
			UserID:      claims.Subject,
			UserName:    claims.Name,
			IsPaid:      true,
			Permissions: []string{middleware.PermissionChatAccess},
		})
		if err != nil {
			s.logger.Error("セッショントークンの発行に失敗", zap.Error(err))
			s.authOutcomes.WithLabelValues("error").Inc()
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Internal Server Error",
				"message": "An unexpected error occurred",
			})
			return
		}

		s.logger.Info("セッショントークンを発行", zap.String("user_id", claims.Subject))
		s.authOutcomes.WithLabelValues("success").Inc()
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"token":     token,
			"expiresIn": s.cfg.SessionTTLText,
			"user": gin.H{
				"id":     claims.Subject,
				"name":   claims.Name,
				"isPaid": true,
			},
		})
	}
}
