package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/nao1215/minisns/pkg/event"
	"github.com/nao1215/minisns/pkg/httpclient"
	"github.com/nao1215/minisns/pkg/middleware"
)

// defaultTTL は通知の有効期間のデフォルト値。
const defaultTTL = 24 * time.Hour

// defaultSweepInterval は期限切れ通知の掃き出し間隔のデフォルト値。
const defaultSweepInterval = 24 * time.Hour

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store は通知テーブルへのクエリ実行オブジェクト。
	store *Store
	// db はSQLiteデータベース接続。
	db *sql.DB
	// fanout は投稿イベントから通知を作成するファンアウト処理。
	fanout *Fanout
	// postClient はpostサービスへの通信クライアント。
	postClient *httpclient.Client
	// cleaner は期限切れ通知を定期削除するバックグラウンドプロセス。
	cleaner *Cleaner
	// jwtSecret はJWT検証用の秘密鍵。
	jwtSecret string
	// apiKey は他サービスからのサービス間認証キー。
	apiKey string
}

// NewServer は新しい通知サーバーを生成する。
// SQLiteデータベースの初期化とCleanerのバックグラウンド起動を行う。
func NewServer(port string) (*Server, error) {
	dbPath := getEnvOr("NOTIFICATION_DB_PATH", "/data/notification.db")
	sqlDB, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	store := NewStore(sqlDB)

	authClient := httpclient.New(getEnvOr("AUTH_URL", "http://localhost:8001")).
		WithAPIKey(os.Getenv("AUTH_API_KEY"))
	postClient := httpclient.New(getEnvOr("POST_URL", "http://localhost:8002")).
		WithAPIKey(os.Getenv("POST_API_KEY"))

	ttl := durationEnvOr("NOTIFICATION_TTL", defaultTTL)
	sweepInterval := durationEnvOr("NOTIFICATION_SWEEP_INTERVAL", defaultSweepInterval)

	cleaner := NewCleaner(store, sweepInterval)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(allowedOrigins()))

	s := &Server{
		router:     router,
		port:       port,
		store:      store,
		db:         sqlDB,
		fanout:     NewFanout(store, authClient, ttl),
		postClient: postClient,
		cleaner:    cleaner,
		jwtSecret:  getEnvOr("JWT_SECRET", "dev-secret-key"),
		apiKey:     os.Getenv("NOTIFICATION_API_KEY"),
	}
	s.setupRoutes()

	// バックグラウンドで期限切れ通知の掃き出しを開始する
	cleaner.Start(context.Background())

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Shutdown はサーバーを停止する。
// Cleanerの停止とデータベース接続のクローズを行う。
func (s *Server) Shutdown() {
	if s.cleaner != nil {
		s.cleaner.Stop()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得（投稿情報付き）
			notifications.GET("", middleware.JWTAuth(s.jwtSecret), s.handleList())
			// 通知を既読にする
			notifications.PUT("/:id/markAsSeen", middleware.JWTAuth(s.jwtSecret), s.handleMarkAsSeen())
			// 通知作成（postサービスから呼び出されるファンアウトAPI）
			notifications.POST("", middleware.ServiceOrJWTAuth(s.jwtSecret, s.apiKey), s.handleCreate())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// postDetail は通知に添付される投稿情報。postサービスから取得する。
type postDetail struct {
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
	// FileURL は添付ファイルの公開URL。
	FileURL string `json:"file_url"`
	// FileName は添付ファイルの元のファイル名。
	FileName string `json:"file_name"`
	// CreatedAt は投稿の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// PostID は通知の元になった投稿のID。
	PostID string `json:"post_id"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// SenderEmail は投稿者のメールアドレス。
	SenderEmail string `json:"sender_email"`
	// IsSeen はこのユーザーの既読状態。
	IsSeen bool `json:"is_seen"`
	// ExpiresAt は通知の有効期限（RFC3339形式）。
	ExpiresAt string `json:"expires_at"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
	// Post は通知の元になった投稿。取得に失敗した場合はnull。
	Post *postDetail `json:"post"`
}

// toNotificationResponse はDB行をJSONレスポンスに変換する。投稿情報は後から埋める。
func toNotificationResponse(un UserNotification) notificationResponse {
	return notificationResponse{
		ID:          un.ID,
		PostID:      un.PostID,
		Message:     un.Message,
		SenderEmail: un.SenderEmail,
		IsSeen:      un.IsSeen,
		ExpiresAt:   un.ExpiresAt.Format(time.RFC3339),
		CreatedAt:   un.CreatedAt.Format(time.RFC3339),
	}
}

// handleList は認証済みユーザーの通知一覧を投稿情報付きで返すハンドラを返す。
// 各通知の投稿情報はpostサービスから並行に取得し、取得に失敗した通知は
// postをnullにしたまま返す（一覧全体は失敗しない）。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)

		notifications, err := s.store.ListForUser(c.Request.Context(), userID, time.Now().UTC())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			log.Printf("通知一覧取得エラー: %v", err)
			return
		}

		responses := make([]notificationResponse, len(notifications))
		ctx := forwardBearer(c)

		var wg sync.WaitGroup
		for i, un := range notifications {
			responses[i] = toNotificationResponse(un)

			wg.Add(1)
			go func(i int, postID string) {
				defer wg.Done()
				post, err := s.fetchPost(ctx, postID)
				if err != nil {
					log.Printf("投稿情報の取得に失敗 (post_id=%s): %v", postID, err)
					return
				}
				responses[i].Post = post
			}(i, un.PostID)
		}
		wg.Wait()

		c.JSON(http.StatusOK, gin.H{
			"user_id":       userID,
			"notifications": responses,
		})
	}
}

// fetchPost はpostサービスから投稿情報を1件取得する。
func (s *Server) fetchPost(ctx context.Context, postID string) (*postDetail, error) {
	var wrapper struct {
		Post postDetail `json:"post"`
	}
	if err := s.postClient.GetJSON(ctx, "/api/v1/posts/"+postID, &wrapper); err != nil {
		return nil, err
	}
	return &wrapper.Post, nil
}

// handleMarkAsSeen は通知を既読にするハンドラを返す。
// すでに既読の通知への再実行も成功として扱う（冪等）。
// 既読化の結果、通知が期限切れかつ全員既読になった場合はその場で削除する。
func (s *Server) handleMarkAsSeen() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		notificationID := c.Param("id")

		if _, err := s.store.GetByID(c.Request.Context(), notificationID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の取得に失敗しました"})
			log.Printf("通知取得エラー: %v", err)
			return
		}

		if _, err := s.store.GetRecipient(c.Request.Context(), notificationID, userID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "この通知の宛先ではありません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "宛先の取得に失敗しました"})
			log.Printf("宛先取得エラー: %v", err)
			return
		}

		if err := s.store.MarkSeen(c.Request.Context(), notificationID, userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "既読化に失敗しました"})
			log.Printf("既読化エラー: %v", err)
			return
		}

		deleted, err := s.store.DeleteIfExpiredAndAllSeen(c.Request.Context(), notificationID, time.Now().UTC())
		if err != nil {
			// 既読化自体は完了しているため、削除の失敗は次回の掃き出しに委ねる
			log.Printf("既読化後の削除エラー (id=%s): %v", notificationID, err)
		}

		if deleted {
			c.JSON(http.StatusOK, gin.H{"status": "deleted", "message": "通知を既読にし、期限切れのため削除しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "seen", "message": "通知を既読にしました"})
	}
}

// handleCreate は投稿イベントから通知を作成するハンドラを返す。
// 宛先の解決に失敗した場合は通知を一切保存しない（全員分かゼロか）。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var ev event.PostCreated
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		n, recipients, err := s.fanout.Create(forwardBearer(c), ev)
		if err != nil {
			if errors.Is(err, ErrNoRecipients) {
				c.JSON(http.StatusBadRequest, gin.H{"error": ErrNoRecipients.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			log.Printf("通知作成エラー (post_id=%s): %v", ev.PostID, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"notification": gin.H{
				"id":           n.ID,
				"post_id":      n.PostID,
				"message":      n.Message,
				"sender_email": n.SenderEmail,
				"expires_at":   n.ExpiresAt.Format(time.RFC3339),
				"created_at":   n.CreatedAt.Format(time.RFC3339),
			},
			"recipients": recipients,
		})
	}
}

// forwardBearer は呼び出し元のトークンを下流サービスへ伝播するコンテキストを返す。
func forwardBearer(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if bearer, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); found {
		ctx = httpclient.WithBearer(ctx, bearer)
	}
	return ctx
}

// getEnvOr は環境変数を取得し、未設定の場合はデフォルト値を返す。
func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// durationEnvOr は環境変数をtime.Durationとして取得する。
// 未設定または解析できない場合はデフォルト値を返す。
func durationEnvOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("環境変数%sの値が不正です (%q)。デフォルト値%sを使用します", key, v, fallback)
		return fallback
	}
	return d
}

// allowedOrigins はCORSで許可するオリジンの一覧を環境変数から取得する。
func allowedOrigins() []string {
	origins := getEnvOr("FRONTEND_URL", "http://localhost:5173")
	return strings.Split(origins, ",")
}
