package notification

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/nao1215/minisns/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// initSchema はマイグレーションを適用してスキーマを初期化する。
func initSchema(db *sql.DB) error {
	return migration.Run(db, migrationsFS, "migrations")
}

// Notification は投稿から作成された通知。宛先はnotification_recipientsが保持する。
type Notification struct {
	// ID は通知の一意識別子。
	ID string
	// PostID は通知の元になった投稿のID。
	PostID string
	// Message は通知メッセージ。
	Message string
	// SenderEmail は投稿者のメールアドレス。
	SenderEmail string
	// ExpiresAt は通知の有効期限。
	ExpiresAt time.Time
	// CreatedAt は通知の作成日時。
	CreatedAt time.Time
}

// Recipient は通知の宛先ユーザーと既読状態。
type Recipient struct {
	// NotificationID は通知のID。
	NotificationID string
	// UserID は宛先ユーザーのID。
	UserID string
	// IsSeen は既読状態。
	IsSeen bool
}

// UserNotification はあるユーザーから見た通知（通知本体とそのユーザーの既読状態）。
type UserNotification struct {
	Notification
	// IsSeen はこのユーザーの既読状態。
	IsSeen bool
}

// Store は通知テーブルへのクエリ実行オブジェクト。
type Store struct {
	db *sql.DB
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateWithRecipients は通知と宛先を単一トランザクションで保存する。
// 宛先の挿入が1件でも失敗した場合は通知ごとロールバックされ、何も残らない。
func (s *Store) CreateWithRecipients(ctx context.Context, n Notification, userIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO notifications (id, post_id, message, sender_email, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		n.ID, n.PostID, n.Message, n.SenderEmail, n.ExpiresAt, n.CreatedAt,
	); err != nil {
		return fmt.Errorf("通知の保存に失敗: %w", err)
	}

	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO notification_recipients (notification_id, user_id, is_seen) VALUES (?, ?, 0)",
			n.ID, userID,
		); err != nil {
			return fmt.Errorf("宛先の保存に失敗 (user_id=%s): %w", userID, err)
		}
	}

	return tx.Commit()
}

// ListForUser は指定ユーザー宛の有効期限内の通知を新着順で返す。
// 期限切れの通知は未読であっても一覧には含まれない。
func (s *Store) ListForUser(ctx context.Context, userID string, now time.Time) ([]UserNotification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT n.id, n.post_id, n.message, n.sender_email, n.expires_at, n.created_at, r.is_seen
		 FROM notifications n
		 JOIN notification_recipients r ON r.notification_id = n.id
		 WHERE r.user_id = ? AND n.expires_at >= ?
		 ORDER BY n.created_at DESC`,
		userID, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]UserNotification, 0)
	for rows.Next() {
		var un UserNotification
		var isSeen int64
		if err := rows.Scan(&un.ID, &un.PostID, &un.Message, &un.SenderEmail, &un.ExpiresAt, &un.CreatedAt, &isSeen); err != nil {
			return nil, err
		}
		un.IsSeen = isSeen != 0
		notifications = append(notifications, un)
	}
	return notifications, rows.Err()
}

// GetByID は通知を1件取得する。存在しない場合はsql.ErrNoRowsを返す。
func (s *Store) GetByID(ctx context.Context, id string) (Notification, error) {
	var n Notification
	err := s.db.QueryRowContext(ctx,
		"SELECT id, post_id, message, sender_email, expires_at, created_at FROM notifications WHERE id = ?",
		id,
	).Scan(&n.ID, &n.PostID, &n.Message, &n.SenderEmail, &n.ExpiresAt, &n.CreatedAt)
	return n, err
}

// GetRecipient は通知の宛先を1件取得する。宛先でない場合はsql.ErrNoRowsを返す。
func (s *Store) GetRecipient(ctx context.Context, notificationID, userID string) (Recipient, error) {
	var r Recipient
	var isSeen int64
	err := s.db.QueryRowContext(ctx,
		"SELECT notification_id, user_id, is_seen FROM notification_recipients WHERE notification_id = ? AND user_id = ?",
		notificationID, userID,
	).Scan(&r.NotificationID, &r.UserID, &isSeen)
	r.IsSeen = isSeen != 0
	return r, err
}

// MarkSeen は指定ユーザーの既読状態を既読にする。
// すでに既読の場合も成功として扱う（冪等）。
func (s *Store) MarkSeen(ctx context.Context, notificationID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notification_recipients SET is_seen = 1 WHERE notification_id = ? AND user_id = ?",
		notificationID, userID,
	)
	return err
}

// DeleteIfExpiredAndAllSeen は通知が期限切れかつ全宛先が既読の場合に限り削除する。
// 削除された場合はtrueを返す。未読の宛先が1人でも残っていれば削除しない。
func (s *Store) DeleteIfExpiredAndAllSeen(ctx context.Context, id string, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM notifications
		 WHERE id = ? AND expires_at < ?
		   AND NOT EXISTS (
		     SELECT 1 FROM notification_recipients
		     WHERE notification_id = notifications.id AND is_seen = 0
		   )`,
		id, now,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM notification_recipients WHERE notification_id = ?", id,
	); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// SweepExpired は期限切れかつ全宛先が既読の通知をまとめて削除し、削除件数を返す。
// 未読の宛先が残っている通知は期限切れでも削除しない。
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM notification_recipients
		 WHERE notification_id IN (
		   SELECT id FROM notifications
		   WHERE expires_at < ?
		     AND NOT EXISTS (
		       SELECT 1 FROM notification_recipients r
		       WHERE r.notification_id = notifications.id AND r.is_seen = 0
		     )
		 )`,
		now,
	); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM notifications
		 WHERE expires_at < ?
		   AND NOT EXISTS (
		     SELECT 1 FROM notification_recipients
		     WHERE notification_id = notifications.id AND is_seen = 0
		   )`,
		now,
	)
	if err != nil {
		return 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return deleted, tx.Commit()
}
