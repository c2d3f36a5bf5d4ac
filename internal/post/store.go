package post

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/nao1215/minisns/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	return migration.Run(db, migrationsFS, "migrations")
}

// Post は投稿レコードを表す。
type Post struct {
	// ID は投稿の一意識別子（UUID）。
	ID string
	// Title は投稿のタイトル。
	Title string
	// Content は投稿の本文。
	Content string
	// AuthorID は投稿者のユーザーID。
	AuthorID string
	// AuthorEmail は投稿者のメールアドレス（非正規化）。
	AuthorEmail string
	// FileURL は添付ファイルの公開URL。添付なしの場合は空文字列。
	FileURL string
	// FileName は添付ファイルの元のファイル名。
	FileName string
	// CreatedAt は投稿の作成日時。
	CreatedAt time.Time
}

// Store は投稿テーブルへのクエリ実行オブジェクト。
type Store struct {
	db *sql.DB
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// postColumns はSELECT句で使用するカラムの並び。scanPostと同期すること。
const postColumns = "id, title, content, author_id, author_email, file_url, file_name, created_at"

// scanPost は1行を読み取ってPostに変換する。
func scanPost(row interface{ Scan(dest ...any) error }) (Post, error) {
	var p Post
	err := row.Scan(&p.ID, &p.Title, &p.Content, &p.AuthorID, &p.AuthorEmail, &p.FileURL, &p.FileName, &p.CreatedAt)
	return p, err
}

// CreatePost は新しい投稿を保存する。
// created_atはdatetime('now')が秒精度しか持たないため、呼び出し側の時刻をそのまま記録する。
func (s *Store) CreatePost(ctx context.Context, p Post) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO posts (id, title, content, author_id, author_email, file_url, file_name, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.Title, p.Content, p.AuthorID, p.AuthorEmail, p.FileURL, p.FileName, p.CreatedAt,
	)
	return err
}

// GetPostByID はIDで投稿を取得する。存在しない場合はsql.ErrNoRowsを返す。
func (s *Store) GetPostByID(ctx context.Context, id string) (Post, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+postColumns+" FROM posts WHERE id = ?", id)
	return scanPost(row)
}

// ListPosts は投稿を新着順に取得する。
// excludeAuthorIDが空でない場合、その投稿者の投稿を除外する。
func (s *Store) ListPosts(ctx context.Context, excludeAuthorID string) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+postColumns+" FROM posts WHERE (? = '' OR author_id != ?) ORDER BY created_at DESC",
		excludeAuthorID, excludeAuthorID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return collectPosts(rows)
}

// ListPostsByAuthor は指定された投稿者の投稿を新着順に取得する。
func (s *Store) ListPostsByAuthor(ctx context.Context, authorID string) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+postColumns+" FROM posts WHERE author_id = ? ORDER BY created_at DESC",
		authorID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return collectPosts(rows)
}

// collectPosts は全行を読み取ってPostのスライスに変換する。
func collectPosts(rows *sql.Rows) ([]Post, error) {
	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
