package middleware

import "github.com/gin-gonic/gin"

// SecurityHeaders は一般的なセキュリティヘッダーを付与するGinミドルウェアを返す。
// LIFFアプリ内のiframeで表示するため、Content-Security-PolicyとX-Frame-Optionsは設定しない。
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-DNS-Prefetch-Control", "off")
		h.Set("X-Download-Options", "noopen")
		h.Set("X-Permitted-Cross-Domain-Policies", "none")
		h.Set("X-XSS-Protection", "0")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Origin-Agent-Cluster", "?1")
		c.Next()
	}
}
