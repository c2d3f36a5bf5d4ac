package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestLocalStorage はローカルディスク実装を検証する。
func TestLocalStorage(t *testing.T) {
	t.Parallel()

	t.Run("保存したファイルの公開URLが返り内容が読み出せること", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		s, err := NewLocalStorage(dir, "http://localhost:8002/uploads/")
		if err != nil {
			t.Fatalf("NewLocalStorage()でエラーが発生: %v", err)
		}

		url, err := s.Save(context.Background(), strings.NewReader("hello"), "photo.png", "image/png")
		if err != nil {
			t.Fatalf("Save()でエラーが発生: %v", err)
		}

		if !strings.HasPrefix(url, "http://localhost:8002/uploads/") {
			t.Errorf("URL = %q, want prefix %q", url, "http://localhost:8002/uploads/")
		}
		if !strings.HasSuffix(url, ".png") {
			t.Errorf("URL = %q, 拡張子.pngが保持されるべき", url)
		}

		content, err := os.ReadFile(filepath.Join(dir, filepath.Base(url)))
		if err != nil {
			t.Fatalf("保存されたファイルの読み出しに失敗: %v", err)
		}
		if string(content) != "hello" {
			t.Errorf("保存内容 = %q, want %q", content, "hello")
		}
	})

	t.Run("同じファイル名でも保存先が衝突しないこと", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		s, err := NewLocalStorage(dir, "http://localhost:8002/uploads")
		if err != nil {
			t.Fatalf("NewLocalStorage()でエラーが発生: %v", err)
		}

		url1, err := s.Save(context.Background(), strings.NewReader("a"), "same.jpg", "image/jpeg")
		if err != nil {
			t.Fatalf("1回目のSave()でエラーが発生: %v", err)
		}
		url2, err := s.Save(context.Background(), strings.NewReader("b"), "same.jpg", "image/jpeg")
		if err != nil {
			t.Fatalf("2回目のSave()でエラーが発生: %v", err)
		}

		if url1 == url2 {
			t.Errorf("同名ファイルのURLが衝突: %q", url1)
		}
	})

	t.Run("削除後にファイルが存在しないこと", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		s, err := NewLocalStorage(dir, "http://localhost:8002/uploads")
		if err != nil {
			t.Fatalf("NewLocalStorage()でエラーが発生: %v", err)
		}

		url, err := s.Save(context.Background(), strings.NewReader("bye"), "gone.txt", "text/plain")
		if err != nil {
			t.Fatalf("Save()でエラーが発生: %v", err)
		}

		if err := s.Delete(context.Background(), url); err != nil {
			t.Fatalf("Delete()でエラーが発生: %v", err)
		}

		if _, err := os.Stat(filepath.Join(dir, filepath.Base(url))); !os.IsNotExist(err) {
			t.Errorf("削除後もファイルが存在する: %v", err)
		}
	})

	t.Run("存在しないファイルの削除はエラーにならないこと", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		s, err := NewLocalStorage(dir, "http://localhost:8002/uploads")
		if err != nil {
			t.Fatalf("NewLocalStorage()でエラーが発生: %v", err)
		}

		if err := s.Delete(context.Background(), "http://localhost:8002/uploads/missing.txt"); err != nil {
			t.Errorf("存在しないファイルのDelete()がエラーを返した: %v", err)
		}
	})
}
