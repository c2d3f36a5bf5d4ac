package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/minisns/pkg/event"
	"github.com/nao1215/minisns/pkg/httpclient"
)

// ErrNoRecipients は通知の宛先となるユーザーが1人も存在しないことを示す。
// この場合、通知は一切保存されない。
var ErrNoRecipients = errors.New("通知の宛先となるユーザーが存在しません")

// Fanout は投稿イベントから宛先ユーザー全員分の通知を作成する。
// 宛先はauthサービスのユーザーディレクトリから取得し、投稿者自身は除外する。
type Fanout struct {
	// store は通知テーブルへのクエリ実行オブジェクト。
	store *Store
	// authClient はauthサービスへの通信クライアント。
	authClient *httpclient.Client
	// ttl は作成する通知の有効期間。
	ttl time.Duration
}

// NewFanout は新しいFanoutを生成する。
func NewFanout(store *Store, authClient *httpclient.Client, ttl time.Duration) *Fanout {
	return &Fanout{
		store:      store,
		authClient: authClient,
		ttl:        ttl,
	}
}

// directoryUser はauthサービスのユーザーディレクトリAPIから返されるユーザー。
type directoryUser struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Email はメールアドレス。
	Email string `json:"email"`
}

// directoryResponse はユーザーディレクトリAPIのレスポンス構造。
type directoryResponse struct {
	// Users はユーザーの一覧。
	Users []directoryUser `json:"users"`
}

// Create は投稿イベントから通知を作成し、宛先全員に紐付けて保存する。
// 宛先の解決に失敗した場合や宛先が空の場合は何も保存せずエラーを返す。
// 戻り値は作成した通知と宛先の人数。
func (f *Fanout) Create(ctx context.Context, ev event.PostCreated) (Notification, int, error) {
	recipients, err := f.resolveRecipients(ctx, ev.SenderID)
	if err != nil {
		return Notification{}, 0, err
	}
	if len(recipients) == 0 {
		return Notification{}, 0, ErrNoRecipients
	}

	now := time.Now().UTC()
	n := Notification{
		ID:          uuid.New().String(),
		PostID:      ev.PostID,
		Message:     ev.Message,
		SenderEmail: ev.SenderEmail,
		ExpiresAt:   now.Add(f.ttl),
		CreatedAt:   now,
	}

	if err := f.store.CreateWithRecipients(ctx, n, recipients); err != nil {
		return Notification{}, 0, err
	}

	return n, len(recipients), nil
}

// resolveRecipients はauthサービスから全ユーザーを取得し、宛先のユーザーIDを返す。
// 投稿者自身を除外し、重複するIDは1つにまとめる。
func (f *Fanout) resolveRecipients(ctx context.Context, senderID string) ([]string, error) {
	var directory directoryResponse
	if err := f.authClient.GetJSON(ctx, "/api/v1/auth/users", &directory); err != nil {
		return nil, fmt.Errorf("ユーザーディレクトリの取得に失敗: %w", err)
	}

	seen := make(map[string]struct{}, len(directory.Users))
	recipients := make([]string, 0, len(directory.Users))
	for _, u := range directory.Users {
		if u.ID == "" || u.ID == senderID {
			continue
		}
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		recipients = append(recipients, u.ID)
	}

	return recipients, nil
}
