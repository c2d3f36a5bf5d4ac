package notification

import (
	"context"
	"log"
	"time"
)

// Cleaner は期限切れの通知を定期的に削除するバックグラウンドプロセス。
// 期限切れでも未読の宛先が残っている通知は、全員が既読になるまで削除しない。
type Cleaner struct {
	// store は通知テーブルへのクエリ実行オブジェクト。
	store *Store
	// interval は掃き出しの実行間隔。
	interval time.Duration
	// cancel はバックグラウンドゴルーチンを停止するためのキャンセル関数。
	cancel context.CancelFunc
}

// NewCleaner は新しいCleanerを生成する。
func NewCleaner(store *Store, interval time.Duration) *Cleaner {
	return &Cleaner{
		store:    store,
		interval: interval,
	}
}

// Start はバックグラウンドで期限切れ通知の掃き出しを開始する。
// 起動直後に1回実行し、以降はinterval間隔で繰り返す。
func (cl *Cleaner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	cl.cancel = cancel

	go func() {
		log.Printf("Cleaner: 期限切れ通知の掃き出しを開始します (間隔: %s)", cl.interval)

		if err := cl.sweep(ctx); err != nil {
			log.Printf("Cleaner: 掃き出しエラー: %v", err)
		}

		ticker := time.NewTicker(cl.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("Cleaner: 掃き出しを停止しました")
				return
			case <-ticker.C:
				if err := cl.sweep(ctx); err != nil {
					log.Printf("Cleaner: 掃き出しエラー: %v", err)
				}
			}
		}
	}()
}

// Stop はバックグラウンドの掃き出しを停止する。
func (cl *Cleaner) Stop() {
	if cl.cancel != nil {
		cl.cancel()
	}
}

// sweep は期限切れかつ全員既読の通知を削除する。
func (cl *Cleaner) sweep(ctx context.Context) error {
	deleted, err := cl.store.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if deleted > 0 {
		log.Printf("Cleaner: %d件の期限切れ通知を削除しました", deleted)
	}
	return nil
}
