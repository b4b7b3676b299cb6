// Package gateway はLIFF認証ゲートウェイのHTTPサーバーを提供する。
//
// LINEのIDトークンを短命のセッショントークンに交換する/authと、
// セッショントークンを持つ有料会員にだけ上流のチャットページを中継する/chat-proxyを担当する。
// サーバー側にセッションは保存せず、トークンに署名された内容だけで判定する。
package gateway
