// Package post は投稿サービスの実装を提供する。
//
// 投稿の作成・一覧取得・詳細取得と、画像・動画の添付ファイル管理を担当する。
// 投稿が作成されると、notificationサービスへファンアウトを依頼する。
// 通知の失敗は投稿の成功を妨げない。
package post
