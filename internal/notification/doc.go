// Package notification は通知サービスの実装を提供する。
//
// 投稿が作成されると、投稿者以外の全ユーザー宛に通知をファンアウトする。
// 通知本体は投稿ごとに1件で、宛先ごとの既読状態はnotification_recipientsが保持する。
// 通知には有効期限があり、期限切れかつ全員既読の通知はCleanerが定期的に削除する。
// 期限切れでも未読の宛先が残っている通知は、全員が既読になるまで削除されない。
package notification
