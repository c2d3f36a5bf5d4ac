package storage

import (
	"context"
	"io"
)

// FileStorage は投稿の添付ファイルを保存するストレージの抽象。
// 本番ではS3互換オブジェクトストレージ（MinIO等）、開発ではローカルディスクを使用する。
type FileStorage interface {
	// Save はファイルを保存し、公開URLを返す。
	Save(ctx context.Context, file io.Reader, filename string, contentType string) (string, error)
	// Delete はURLで指定されたファイルを削除する。
	// 既に存在しない場合はエラーとしない。
	Delete(ctx context.Context, fileURL string) error
}
