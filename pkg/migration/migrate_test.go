package migration

import (
	"database/sql"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

// openTestDB はテスト用のインメモリSQLiteデータベースを開く。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	// インメモリDBは接続ごとに独立するため、接続数を1に制限する
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRun はマイグレーションの適用を検証する。
func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("マイグレーションがバージョン順に適用されること", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		fsys := fstest.MapFS{
			"migrations/000002_add_column.up.sql": &fstest.MapFile{
				Data: []byte("ALTER TABLE items ADD COLUMN note TEXT;"),
			},
			"migrations/000001_init.up.sql": &fstest.MapFile{
				Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);"),
			},
		}

		if err := Run(db, fsys, "migrations"); err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}

		// 2番目のマイグレーションで追加されたカラムに書き込めること
		if _, err := db.Exec("INSERT INTO items (id, note) VALUES ('a', 'memo')"); err != nil {
			t.Fatalf("マイグレーション後のINSERTに失敗: %v", err)
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("schema_migrationsの取得に失敗: %v", err)
		}
		if count != 2 {
			t.Errorf("適用済みマイグレーション数 = %d, want %d", count, 2)
		}
	})

	t.Run("適用済みのマイグレーションは再実行されないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		fsys := fstest.MapFS{
			"migrations/000001_init.up.sql": &fstest.MapFile{
				Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);"),
			},
		}

		if err := Run(db, fsys, "migrations"); err != nil {
			t.Fatalf("1回目のRun()でエラーが発生: %v", err)
		}
		// CREATE TABLEを含むマイグレーションの再実行はエラーになるため、
		// スキップされていれば2回目も成功する
		if err := Run(db, fsys, "migrations"); err != nil {
			t.Fatalf("2回目のRun()でエラーが発生: %v", err)
		}
	})

	t.Run("命名規則に合わないファイルは無視されること", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		fsys := fstest.MapFS{
			"migrations/000001_init.up.sql": &fstest.MapFile{
				Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);"),
			},
			"migrations/README.md": &fstest.MapFile{
				Data: []byte("not sql"),
			},
			"migrations/broken.up.sql": &fstest.MapFile{
				Data: []byte("THIS IS NOT SQL"),
			},
		}

		if err := Run(db, fsys, "migrations"); err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("schema_migrationsの取得に失敗: %v", err)
		}
		if count != 1 {
			t.Errorf("適用済みマイグレーション数 = %d, want %d", count, 1)
		}
	})

	t.Run("不正なSQLを含むマイグレーションはエラーになり記録されないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		fsys := fstest.MapFS{
			"migrations/000001_bad.up.sql": &fstest.MapFile{
				Data: []byte("CREATE TABLE;"),
			},
		}

		if err := Run(db, fsys, "migrations"); err == nil {
			t.Fatal("不正なSQLに対してRun()がエラーを返すべき")
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("schema_migrationsの取得に失敗: %v", err)
		}
		if count != 0 {
			t.Errorf("適用済みマイグレーション数 = %d, want %d", count, 0)
		}
	})
}
