package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStorage はローカルディスクへのFileStorage実装。
// オブジェクトストレージを用意せずに動かす開発環境向け。
type LocalStorage struct {
	// basePath はファイルの保存先ディレクトリ。
	basePath string
	// baseURL はクライアントに返す公開URLのベース。
	baseURL string
}

// NewLocalStorage は新しいLocalStorageを生成する。
// 保存先ディレクトリが無ければ作成する。
func NewLocalStorage(basePath, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("保存先ディレクトリの作成に失敗: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

// Save はファイルをローカルディスクに保存し、公開URLを返す。
// ファイル名は衝突を避けるためUUIDで生成する。
func (s *LocalStorage) Save(_ context.Context, file io.Reader, filename string, _ string) (string, error) {
	ext := filepath.Ext(filename)
	name := uuid.New().String() + ext
	fullPath := filepath.Join(s.basePath, name)

	dst, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("ファイルの作成に失敗: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return "", fmt.Errorf("ファイル内容の書き込みに失敗: %w", err)
	}

	return s.baseURL + "/" + name, nil
}

// Delete はURLで指定されたファイルをローカルディスクから削除する。
// 既に存在しない場合は何もしない。
func (s *LocalStorage) Delete(_ context.Context, fileURL string) error {
	// URL末尾のファイル名のみを使い、ディレクトリトラバーサルを防ぐ
	name := filepath.Base(fileURL)
	fullPath := filepath.Join(s.basePath, name)

	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("ファイルの削除に失敗: %w", err)
	}
	return nil
}
