package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// ユーザーID等の情報をサービス間で伝播するために使用する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
}

// tokenLifetime はJWTトークンの有効期間。
const tokenLifetime = 7 * 24 * time.Hour

// issuer はこのシステムが発行するJWTトークンのissクレーム値。
const issuer = "minisns-auth"

// GenerateJWT はユーザー情報からJWTトークンを生成する。
// authサービスがサインアップ・サインイン成功後に呼び出す。
func GenerateJWT(secret, userID, email string) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
		},
		UserID: userID,
		Email:  email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// parseBearerToken はAuthorizationヘッダーからJWTクレームを取り出す。
// ヘッダー形式・署名・有効期限のいずれかが不正な場合はエラーを返す。
func parseBearerToken(c *gin.Context, secret string) (*JWTClaims, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("Authorizationヘッダーが必要です")
	}

	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found {
		return nil, fmt.Errorf("Bearer トークン形式が不正です")
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("トークンが無効です")
	}
	return claims, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストにユーザー種別のPrincipalを設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := parseBearerToken(c, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}

		setPrincipal(c, Principal{
			Kind:   PrincipalUser,
			UserID: claims.UserID,
			Email:  claims.Email,
		})
		c.Next()
	}
}

// GetUserID はGinコンテキストから認証済みユーザーのIDを取得する。
// JWTAuthまたはServiceOrJWTAuthミドルウェアが事前に適用されている必要がある。
// サービスキー認証のみで通過した場合は空文字列を返す。
func GetUserID(c *gin.Context) string {
	return GetPrincipal(c).UserID
}

// GetEmail はGinコンテキストから認証済みユーザーのメールアドレスを取得する。
func GetEmail(c *gin.Context) string {
	return GetPrincipal(c).Email
}
