package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
}

// headerKeyUserID はサービス間でユーザーIDを伝播するためのHTTPヘッダーキー。
const headerKeyUserID = "X-User-ID"

// queryKeyToken はWebSocketハンドシェイクでトークンを渡すクエリパラメータ名。
// ブラウザのWebSocket APIはヘッダーを設定できないため、クエリでも受け付ける。
const queryKeyToken = "token"

var (
	// ErrMissingToken はリクエストにトークンが含まれない場合に返される。
	ErrMissingToken = errors.New("トークンが指定されていません")
	// ErrMalformedToken はAuthorizationヘッダーの形式が不正な場合に返される。
	ErrMalformedToken = errors.New("Bearer トークン形式が不正です")
	// ErrInvalidToken は署名・有効期限・クレームの検証に失敗した場合に返される。
	ErrInvalidToken = errors.New("トークンが無効です")
)

// GenerateJWT はユーザー情報からJWTトークンを生成する。
// トークンの発行は認証基盤の責務で、このサービスでは主にテストと開発用に使う。
func GenerateJWT(secret, userID, email string) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "postnotify",
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

// ParseToken はトークン文字列を検証してクレームを返す。
// HMAC以外の署名方式と、user_idを持たないトークンは拒否する。
func ParseToken(secret, tokenString string) (*JWTClaims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingToken
	}
	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found {
		return "", ErrMalformedToken
	}
	return tokenString, nil
}

// AuthenticateRequest はWebSocketハンドシェイク用にリクエストを認証する。
// Authorizationヘッダーを優先し、無ければクエリパラメータ token を使う。
func AuthenticateRequest(r *http.Request, secret string) (*JWTClaims, error) {
	tokenString, err := bearerToken(r)
	if errors.Is(err, ErrMissingToken) {
		tokenString = r.URL.Query().Get(queryKeyToken)
	} else if err != nil {
		return nil, err
	}
	return ParseToken(secret, tokenString)
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id" と "email" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := bearerToken(c.Request)
		if err != nil {
			msg := "Authorizationヘッダーが必要です"
			if errors.Is(err, ErrMalformedToken) {
				msg = err.Error()
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		claims, err := ParseToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidToken.Error()})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Header(headerKeyUserID, claims.UserID)
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}
