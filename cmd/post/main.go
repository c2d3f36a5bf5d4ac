// 投稿サービスのエントリポイント。
// 投稿の作成・閲覧と添付ファイルの管理を担当し、
// 投稿が作成されるとnotificationサービスへファンアウトを依頼する。
package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/nao1215/minisns/internal/post"
)

func main() {
	// .envは開発環境向けで、存在しなくてもよい
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8002"
	}

	server, err := post.NewServer(port)
	if err != nil {
		log.Fatalf("投稿サーバーの初期化に失敗: %v", err)
	}

	log.Printf("投稿サービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("投稿サービスの起動に失敗: %v", err)
	}
}
