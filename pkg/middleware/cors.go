package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// originSet は許可オリジンの集合。
type originSet map[string]struct{}

func newOriginSet(allowedOrigins []string) originSet {
	set := make(originSet, len(allowedOrigins))
	for _, o := range allowedOrigins {
		set[o] = struct{}{}
	}
	return set
}

// CheckOrigin はWebSocketアップグレード時のオリジン検証関数を返す。
// Originヘッダーを持たないリクエスト（ブラウザ以外のクライアント）は許可する。
func CheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	set := newOriginSet(allowedOrigins)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// CORS は指定されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	set := newOriginSet(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if _, ok := set[origin]; ok {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Max-Age", "86400")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
