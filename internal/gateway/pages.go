package gateway

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errorPage は/chat-proxyがブラウザ向けに返すエラーページの内容。
// LIFFアプリ内ブラウザで直接表示されるため、JSONではなくHTMLで返す。
type errorPage struct {
	// Title はtitle要素の文字列。
	Title string
	// Heading は見出し。
	Heading string
	// Lines は本文の段落。
	Lines []string
	// Class は見出しのCSSクラス（"error" または "warning"）。
	Class string
	// Retry は再読み込みボタンを表示するかどうか。
	Retry bool
}

var (
	pageTokenRequired = errorPage{
		Title:   "Error",
		Heading: "エラー",
		Lines:   []string{"認証トークンが必要です。"},
		Class:   "error",
	}
	pageAccessDenied = errorPage{
		Title:   "Access Denied",
		Heading: "アクセス拒否",
		Lines:   []string{"認証トークンが無効または期限切れです。", "再度ログインしてください。"},
		Class:   "error",
	}
	pageSubscriptionRequired = errorPage{
		Title:   "Subscription Required",
		Heading: "有料サービス",
		Lines:   []string{"チャット機能は有料会員限定です。"},
		Class:   "warning",
	}
	pageChatUnavailable = errorPage{
		Title:   "Chat Unavailable",
		Heading: "チャットサービスに接続できません",
		Lines:   []string{"一時的な問題が発生しています。", "しばらく待ってから再度お試しください。"},
		Class:   "error",
		Retry:   true,
	}
	pageSystemError = errorPage{
		Title:   "Error",
		Heading: "システムエラー",
		Lines:   []string{"予期しないエラーが発生しました。"},
		Class:   "error",
	}
)

var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>{{.Title}}</title>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <style>
    body { font-family: Arial, sans-serif; text-align: center; padding: 50px;{{if .Retry}} background-color: #f5f5f5;{{end}} }
    .error { color: #d32f2f; margin-bottom: 20px; }
    .warning { color: #f57c00; }
    .retry-button { background-color: #4CAF50; color: white; padding: 10px 20px; border: none; border-radius: 4px; cursor: pointer; font-size: 16px; }
    .retry-button:hover { background-color: #45a049; }
  </style>
</head>
<body>
  <h1 class="{{.Class}}">{{.Heading}}</h1>
{{- range .Lines}}
  <p>{{.}}</p>
{{- end}}
{{- if .Retry}}
  <button class="retry-button" onclick="location.reload()">再読み込み</button>
{{- end}}
</body>
</html>
`))

// renderPage はエラーページを指定のステータスコードで返す。
func (s *Server) renderPage(c *gin.Context, status int, page errorPage) {
	var buf bytes.Buffer
	if err := errorPageTemplate.Execute(&buf, page); err != nil {
		s.logger.Error("エラーページの生成に失敗", zap.Error(err))
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}
