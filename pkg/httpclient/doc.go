// Package httpclient は外部サービスとのHTTP通信を行うクライアントを提供する。
//
// IDプロバイダーへのトークン検証リクエストや、上流チャットページの取得など、
// 1回だけ送信してタイムアウトで打ち切る通信パターンを統一する。
package httpclient
