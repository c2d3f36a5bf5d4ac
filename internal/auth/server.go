package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nao1215/minisns/pkg/middleware"
)

// Server は認証サービスのHTTPサーバー。
// ユーザーのサインアップ・サインインとJWT発行、ならびに
// 通知ファンアウトが参照するユーザーディレクトリを提供する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はユーザーテーブルへのクエリ実行オブジェクト。
	store *Store
	// db はSQLiteデータベース接続。
	db *sql.DB
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// apiKey は他サービスからのサービス間認証キー。
	apiKey string
}

// NewServer は新しい認証サーバーを生成する。
// SQLiteデータベースの初期化とマイグレーション適用を行う。
func NewServer(port string) (*Server, error) {
	dbPath := getEnvOr("AUTH_DB_PATH", "/data/auth.db")
	sqlDB, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(allowedOrigins()))

	s := &Server{
		router:    router,
		port:      port,
		store:     NewStore(sqlDB),
		db:        sqlDB,
		jwtSecret: getEnvOr("JWT_SECRET", "dev-secret-key"),
		apiKey:    os.Getenv("AUTH_API_KEY"),
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1/auth")
	{
		// サインアップ
		api.POST("/signup", s.handleSignup())
		// サインイン
		api.POST("/signin", s.handleSignin())

		// ユーザーディレクトリ（サービスキーまたはJWTで認証）
		users := api.Group("/users")
		users.Use(middleware.ServiceOrJWTAuth(s.jwtSecret, s.apiKey))
		{
			users.GET("", s.handleListUsers())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "auth"})
	})
}

// credentialsRequest はサインアップ・サインインの共通リクエスト。
type credentialsRequest struct {
	// Email はメールアドレス。
	Email string `json:"email" binding:"required,email"`
	// Password はパスワード（平文）。
	Password string `json:"password" binding:"required"`
}

// handleSignup は新規ユーザーを登録しJWTを発行するハンドラを返す。
func (s *Server) handleSignup() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if _, err := s.store.GetUserByEmail(c.Request.Context(), req.Email); err == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "このメールアドレスは既に登録されています"})
			return
		} else if !errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの確認に失敗しました"})
			log.Printf("ユーザー確認エラー: %v", err)
			return
		}

		hash, err := hashPassword(req.Password)
		if err != nil {
			if errors.Is(err, errPasswordTooShort) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "パスワードの処理に失敗しました"})
			log.Printf("パスワードハッシュ化エラー: %v", err)
			return
		}

		user := User{
			ID:           uuid.New().String(),
			Email:        req.Email,
			PasswordHash: hash,
		}
		if err := s.store.CreateUser(c.Request.Context(), user); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの登録に失敗しました"})
			log.Printf("ユーザー登録エラー: %v", err)
			return
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, user.ID, user.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"token": token})
	}
}

// handleSignin は登録済みユーザーを認証しJWTを発行するハンドラを返す。
// 未登録のメールアドレスとパスワード不一致は同じエラーメッセージで応答する。
func (s *Server) handleSignin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		user, err := s.store.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "メールアドレスまたはパスワードが正しくありません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			log.Printf("ユーザー取得エラー: %v", err)
			return
		}

		if err := verifyPassword(req.Password, user.PasswordHash); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "メールアドレスまたはパスワードが正しくありません"})
			return
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, user.ID, user.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

// userResponse はユーザーディレクトリのJSONレスポンス構造。
// パスワードハッシュは決して含めない。
type userResponse struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Email はメールアドレス。
	Email string `json:"email"`
}

// handleListUsers は呼び出し元を除く全ユーザーを返すハンドラを返す。
// JWT認証の場合はトークンのユーザーが、サービスキーのみの場合は誰も除外されない。
func (s *Server) handleListUsers() gin.HandlerFunc {
	return func(c *gin.Context) {
		requesterID := middleware.GetUserID(c)

		users, err := s.store.ListUsersExcept(c.Request.Context(), requesterID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー一覧の取得に失敗しました"})
			log.Printf("ユーザー一覧取得エラー: %v", err)
			return
		}

		responses := make([]userResponse, 0, len(users))
		for _, u := range users {
			responses = append(responses, userResponse{ID: u.ID, Email: u.Email})
		}

		c.JSON(http.StatusOK, gin.H{"users": responses})
	}
}

// getEnvOr は環境変数を取得し、未設定の場合はデフォルト値を返す。
func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// allowedOrigins はCORSで許可するオリジンの一覧を環境変数から取得する。
func allowedOrigins() []string {
	origins := getEnvOr("FRONTEND_URL", "http://localhost:5173")
	return strings.Split(origins, ",")
}
