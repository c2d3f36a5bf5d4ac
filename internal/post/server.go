package post

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nao1215/minisns/pkg/event"
	"github.com/nao1215/minisns/pkg/httpclient"
	"github.com/nao1215/minisns/pkg/middleware"
	"github.com/nao1215/minisns/pkg/storage"
)

// maxUploadSize はアップロード可能な添付ファイルの最大サイズ（50MB）。
// テスト時に差し替え可能にするためvarとして宣言する。
var maxUploadSize int64 = 50 << 20

// Server は投稿サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store は投稿テーブルへのクエリ実行オブジェクト。
	store *Store
	// db はSQLiteデータベース接続。
	db *sql.DB
	// files は添付ファイルの保存先ストレージ。
	files storage.FileStorage
	// notificationClient はnotificationサービスへの通信クライアント。
	notificationClient *httpclient.Client
	// jwtSecret はJWT検証用の秘密鍵。
	jwtSecret string
	// apiKey は他サービスからのサービス間認証キー。
	apiKey string
}

// NewServer は新しい投稿サーバーを生成する。
// SQLiteデータベースの初期化と添付ファイルストレージの準備を行う。
func NewServer(port string) (*Server, error) {
	dbPath := getEnvOr("POST_DB_PATH", "/data/post.db")
	sqlDB, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	files, err := newFileStorage(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ストレージ初期化に失敗: %w", err)
	}

	notificationURL := getEnvOr("NOTIFICATION_URL", "http://localhost:8003")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(allowedOrigins()))
	router.MaxMultipartMemory = maxUploadSize

	s := &Server{
		router:             router,
		port:               port,
		store:              NewStore(sqlDB),
		db:                 sqlDB,
		files:              files,
		notificationClient: httpclient.New(notificationURL).WithAPIKey(os.Getenv("NOTIFICATION_API_KEY")),
		jwtSecret:          getEnvOr("JWT_SECRET", "dev-secret-key"),
		apiKey:             os.Getenv("POST_API_KEY"),
	}
	s.setupRoutes()

	return s, nil
}

// newFileStorage は環境変数に応じて添付ファイルストレージを選択する。
// MINIO_ENDPOINTが設定されていればS3互換ストレージ、なければローカルディスクを使用する。
func newFileStorage(ctx context.Context) (storage.FileStorage, error) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		basePath := getEnvOr("UPLOAD_DIR", "/data/uploads")
		baseURL := getEnvOr("UPLOAD_BASE_URL", "http://localhost:8002/uploads")
		return storage.NewLocalStorage(basePath, baseURL)
	}

	return storage.NewS3Storage(ctx, storage.S3Config{
		Endpoint:        endpoint,
		Region:          getEnvOr("MINIO_REGION", "us-east-1"),
		AccessKeyID:     os.Getenv("MINIO_ACCESS_KEY"),
		SecretAccessKey: os.Getenv("MINIO_SECRET_KEY"),
		Bucket:          getEnvOr("MINIO_BUCKET_NAME", "minisns"),
		PublicURL:       getEnvOr("MINIO_PUBLIC_URL", endpoint),
	})
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		posts := api.Group("/posts")
		{
			// 投稿の作成（マルチパートフォーム）
			posts.POST("", middleware.JWTAuth(s.jwtSecret), s.handleCreate())
			// 投稿一覧取得
			posts.GET("", middleware.JWTAuth(s.jwtSecret), s.handleList())
			// 特定ユーザーの投稿一覧取得
			posts.GET("/user/:user_id", middleware.JWTAuth(s.jwtSecret), s.handleListByAuthor())
			// 投稿詳細取得（notificationサービスからも参照されるためサービスキーでも認証可）
			posts.GET("/:id", middleware.ServiceOrJWTAuth(s.jwtSecret, s.apiKey), s.handleGetByID())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "post"})
	})
}

// postResponse は投稿のJSONレスポンス構造。
type postResponse struct {
	// ID は投稿の一意識別子。
	ID string `json:"id"`
	// Title は投稿のタイトル。
	Title string `json:"title"`
	// Content は投稿の本文。
	Content string `json:"content"`
	// AuthorID は投稿者のユーザーID。
	AuthorID string `json:"author_id"`
	// AuthorEmail は投稿者のメールアドレス。
	AuthorEmail string `json:"author_email"`
	// FileURL は添付ファイルの公開URL。添付なしの場合は空文字列。
	FileURL string `json:"file_url"`
	// FileName は添付ファイルの元のファイル名。
	FileName string `json:"file_name"`
	// CreatedAt は投稿の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// toPostResponse はDB行をJSONレスポンスに変換する。
func toPostResponse(p Post) postResponse {
	return postResponse{
		ID:          p.ID,
		Title:       p.Title,
		Content:     p.Content,
		AuthorID:    p.AuthorID,
		AuthorEmail: p.AuthorEmail,
		FileURL:     p.FileURL,
		FileName:    p.FileName,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}

// toPostResponses はDB行のスライスをJSONレスポンスのスライスに変換する。
func toPostResponses(posts []Post) []postResponse {
	responses := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		responses = append(responses, toPostResponse(p))
	}
	return responses
}

// handleCreate は投稿を作成するハンドラを返す。
// マルチパートフォームからタイトル・本文・添付ファイルを受け取り、
// 保存後にnotificationサービスへファンアウトを依頼する。
// 通知の失敗は投稿の成功を妨げない（ログに記録するのみ）。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		email := middleware.GetEmail(c)

		title := strings.TrimSpace(c.PostForm("title"))
		if title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "タイトルは必須です"})
			return
		}
		content := c.PostForm("content")

		var fileURL, fileName string
		file, header, err := c.Request.FormFile("file")
		switch {
		case err == nil:
			defer file.Close()

			if header.Size > maxUploadSize {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("ファイルサイズが上限を超えています（最大%dMB）", maxUploadSize/(1<<20))})
				return
			}

			contentType := header.Header.Get("Content-Type")
			if !isAllowedContentType(contentType) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("許可されていないContent-Typeです: %s", contentType)})
				return
			}

			fileName = filepath.Base(header.Filename)
			fileURL, err = s.files.Save(c.Request.Context(), file, fileName, contentType)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "添付ファイルの保存に失敗しました"})
				log.Printf("添付ファイル保存エラー: %v", err)
				return
			}
		case errors.Is(err, http.ErrMissingFile):
			if content == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "本文または添付ファイルのいずれかが必要です"})
				return
			}
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("ファイルの取得に失敗しました: %v", err)})
			return
		}

		p := Post{
			ID:          uuid.New().String(),
			Title:       title,
			Content:     content,
			AuthorID:    userID,
			AuthorEmail: email,
			FileURL:     fileURL,
			FileName:    fileName,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.store.CreatePost(c.Request.Context(), p); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の保存に失敗しました"})
			log.Printf("投稿保存エラー: %v", err)
			return
		}

		s.notifyPostCreated(c, p)

		c.JSON(http.StatusCreated, gin.H{"post": toPostResponse(p)})
	}
}

// notifyPostCreated はnotificationサービスへファンアウトを依頼する。
// 投稿作成の成否とは切り離されたベストエフォートであり、失敗してもログに残すのみ。
func (s *Server) notifyPostCreated(c *gin.Context, p Post) {
	payload := event.PostCreated{
		PostID:      p.ID,
		Message:     fmt.Sprintf("「%s」という新しい投稿が作成されました。", p.Title),
		SenderID:    p.AuthorID,
		SenderEmail: p.AuthorEmail,
	}

	// 呼び出し元ユーザーのトークンをnotificationサービスへ伝播する
	ctx := c.Request.Context()
	if bearer, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); found {
		ctx = httpclient.WithBearer(ctx, bearer)
	}

	if err := s.notificationClient.PostJSON(ctx, "/api/v1/notifications", payload, nil); err != nil {
		log.Printf("通知の作成依頼に失敗（投稿は作成済み）: post_id=%s, %v", p.ID, err)
	}
}

// isAllowedContentType は添付可能なContent-Typeか判定する。
// 画像と動画のみ許可する。
func isAllowedContentType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") || strings.HasPrefix(contentType, "video/")
}

// handleList は投稿一覧を新着順に返すハンドラを返す。
// exclude_authorクエリパラメータで特定の投稿者を除外できる（自分以外のフィード表示用）。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		posts, err := s.store.ListPosts(c.Request.Context(), c.Query("exclude_author"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿一覧の取得に失敗しました"})
			log.Printf("投稿一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"posts": toPostResponses(posts)})
	}
}

// handleGetByID は投稿詳細を返すハンドラを返す。
func (s *Server) handleGetByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := s.store.GetPostByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "投稿が見つかりません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿の取得に失敗しました"})
			log.Printf("投稿取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"post": toPostResponse(p)})
	}
}

// handleListByAuthor は指定された投稿者の投稿一覧を返すハンドラを返す。
func (s *Server) handleListByAuthor() gin.HandlerFunc {
	return func(c *gin.Context) {
		posts, err := s.store.ListPostsByAuthor(c.Request.Context(), c.Param("user_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投稿一覧の取得に失敗しました"})
			log.Printf("投稿一覧取得エラー: %v", err)
			return
		}

		if len(posts) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "このユーザーの投稿はありません"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"posts": toPostResponses(posts)})
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
