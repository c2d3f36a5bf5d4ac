package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// PrincipalKind は認証済みの呼び出し元の種別を表す。
type PrincipalKind string

const (
	// PrincipalUser はJWTトークンで認証されたエンドユーザーを表す。
	PrincipalUser PrincipalKind = "user"
	// PrincipalService はサービスキーで認証された内部サービスを表す。
	PrincipalService PrincipalKind = "service"
)

// Principal は認証済みの呼び出し元を表す。
// サービスキー認証とJWT認証の2種類のクレデンシャルを同一の概念として扱う。
// どちらで認証されたかはKindで区別できるが、信頼度に差はない。
type Principal struct {
	// Kind は呼び出し元の種別。
	Kind PrincipalKind
	// UserID は認証済みユーザーの一意識別子。サービスキー認証のみの場合は空。
	UserID string
	// Email はユーザーのメールアドレス。サービスキー認証のみの場合は空。
	Email string
}

// contextKeyPrincipal はGinコンテキストにPrincipalを格納するためのキー。
const contextKeyPrincipal = "principal"

// headerKeyAPIKey はサービス間認証に使用するHTTPヘッダーキー。
const headerKeyAPIKey = "X-API-Key"

// setPrincipal はGinコンテキストにPrincipalを設定する。
func setPrincipal(c *gin.Context, p Principal) {
	c.Set(contextKeyPrincipal, p)
}

// GetPrincipal はGinコンテキストから認証済みのPrincipalを取得する。
// 認証ミドルウェアが適用されていない場合はゼロ値を返す。
func GetPrincipal(c *gin.Context) Principal {
	v, _ := c.Get(contextKeyPrincipal)
	if p, ok := v.(Principal); ok {
		return p
	}
	return Principal{}
}

// ServiceOrJWTAuth はサービスキーまたはJWTトークンのいずれかで認証するGinミドルウェアを返す。
// まずX-API-Keyヘッダーをサービスキーと定数時間比較し、一致すればサービスとして通過させる。
// サービスキーで認証できた場合でも、Bearerトークンが添えられていればその
// ユーザー情報をPrincipalに取り込む（fan-out時に呼び出し元ユーザーを伝播するため）。
// どちらのクレデンシャルも無効な場合は401を返す。
func ServiceOrJWTAuth(secret, apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		received := c.GetHeader(headerKeyAPIKey)
		viaServiceKey := apiKey != "" && received != "" &&
			subtle.ConstantTimeCompare([]byte(received), []byte(apiKey)) == 1

		claims, jwtErr := parseBearerToken(c, secret)

		switch {
		case claims != nil:
			kind := PrincipalUser
			if viaServiceKey {
				kind = PrincipalService
			}
			setPrincipal(c, Principal{
				Kind:   kind,
				UserID: claims.UserID,
				Email:  claims.Email,
			})
		case viaServiceKey:
			setPrincipal(c, Principal{Kind: PrincipalService})
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": jwtErr.Error(),
			})
			return
		}

		c.Next()
	}
}
