// Package event はサービス間で受け渡すイベントのペイロード定義を提供する。
//
// 送信側（postサービス）と受信側（notificationサービス）が同一の構造体を共有することで、
// サービス間のワイヤーフォーマットのずれを防ぐ。
package event
