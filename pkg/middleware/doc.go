// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// セッショントークンの発行と検証、アクセスログ、パニックリカバリ、
// CORS設定、レート制限、セキュリティヘッダー、メトリクス収集など、
// gatewayの外周で使用するミドルウェアを含む。
package middleware
