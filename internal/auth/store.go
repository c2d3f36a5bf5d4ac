package auth

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

// User はユーザーレコードを表す。
type User struct {
	// ID はユーザーの一意識別子（UUID）。
	ID string
	// Email はメールアドレス（ログインID）。
	Email string
	// PasswordHash はbcryptでハッシュ化されたパスワード。
	PasswordHash string
	// CreatedAt はユーザーの作成日時。
	CreatedAt time.Time
}

// Store はユーザーテーブルへのクエリ実行オブジェクト。
type Store struct {
	db *sql.DB
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateUser は新しいユーザーを登録する。
// メールアドレスが重複している場合はUNIQUE制約違反のエラーを返す。
func (s *Store) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash) VALUES (?, ?, ?)",
		u.ID, u.Email, u.PasswordHash,
	)
	return err
}

// GetUserByEmail はメールアドレスでユーザーを取得する。
// 存在しない場合はsql.ErrNoRowsを返す。
func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = ?",
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

// ListUsersExcept は指定されたユーザーを除く全ユーザーを取得する。
// 通知のファンアウト時に宛先集合を解決するために使用する。
// excludeIDが空の場合は全ユーザーを返す。
func (s *Store) ListUsersExcept(ctx context.Context, excludeID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, email, created_at FROM users WHERE id != ? ORDER BY created_at",
		excludeID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
