package event

// PostCreated は投稿が作成されたことを表すイベントのペイロード。
// postサービスがnotificationサービスのPOST /api/v1/notificationsへ送信するボディであり、
// notificationサービス側のリクエストバインディングとしても使用する。
type PostCreated struct {
	// PostID は作成された投稿のID。通知からのディープリンクに使用する。
	PostID string `json:"post_id" binding:"required"`
	// Message は通知として表示する本文。
	Message string `json:"message" binding:"required"`
	// SenderID は投稿を作成したユーザーのID。通知の宛先から除外される。
	SenderID string `json:"sender_id" binding:"required"`
	// SenderEmail は投稿を作成したユーザーのメールアドレス（非正規化）。
	SenderEmail string `json:"sender_email"`
}
