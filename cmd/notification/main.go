// 通知サービスのエントリポイント。
// 投稿イベントの宛先全員へのファンアウト、既読管理、
// および期限切れ通知のバックグラウンド削除を担当する。
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/nao1215/minisns/internal/notification"
)

func main() {
	// .envは開発環境向けで、存在しなくてもよい
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8003"
	}

	server, err := notification.NewServer(port)
	if err != nil {
		log.Fatalf("通知サーバーの初期化に失敗: %v", err)
	}
	defer server.Shutdown()

	log.Printf("通知サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("通知サービスの起動に失敗: %v", err)
	}
}
