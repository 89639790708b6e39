package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

// signClaims は任意のクレームでテスト用トークンを署名するヘルパー関数。
func signClaims(t *testing.T, method jwt.SigningMethod, key any, claims JWTClaims) string {
	t.Helper()
	tokenStr, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return tokenStr
}

// TestGenerateJWT はGenerateJWT関数を検証する。
func TestGenerateJWT(t *testing.T) {
	t.Parallel()

	t.Run("生成したトークンをParseTokenで検証できること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-123", "test@example.com")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		claims, err := ParseToken(testSecret, tokenStr)
		if err != nil {
			t.Fatalf("ParseToken()でエラーが発生: %v", err)
		}
		if claims.UserID != "user-123" {
			t.Errorf("UserID = %q, want %q", claims.UserID, "user-123")
		}
		if claims.Email != "test@example.com" {
			t.Errorf("Email = %q, want %q", claims.Email, "test@example.com")
		}
		if claims.Issuer != "postnotify" {
			t.Errorf("Issuer = %q, want %q", claims.Issuer, "postnotify")
		}
	})

	t.Run("トークンの有効期限が24時間後であること", func(t *testing.T) {
		t.Parallel()

		before := time.Now()
		tokenStr, err := GenerateJWT(testSecret, "user-exp", "exp@example.com")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}
		claims, err := ParseToken(testSecret, tokenStr)
		if err != nil {
			t.Fatalf("ParseToken()でエラーが発生: %v", err)
		}

		expected := before.Add(24 * time.Hour)
		if d := claims.ExpiresAt.Time.Sub(expected); d < -time.Minute || d > time.Minute {
			t.Errorf("ExpiresAt = %v, want 約 %v", claims.ExpiresAt.Time, expected)
		}
	})
}

// TestParseToken はParseToken関数の拒否条件を検証する。
func TestParseToken(t *testing.T) {
	t.Parallel()

	valid := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           "user-1",
	}

	tests := []struct {
		name  string
		token func(t *testing.T) string
		want  error
	}{
		{
			name:  "空文字列はErrMissingTokenになること",
			token: func(_ *testing.T) string { return "" },
			want:  ErrMissingToken,
		},
		{
			name:  "異なるシークレットで署名されたトークンは拒否されること",
			token: func(t *testing.T) string { return signClaims(t, jwt.SigningMethodHS256, []byte("wrong-secret"), valid) },
			want:  ErrInvalidToken,
		},
		{
			name: "期限切れトークンは拒否されること",
			token: func(t *testing.T) string {
				expired := valid
				expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
				return signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), expired)
			},
			want: ErrInvalidToken,
		},
		{
			name: "user_idを持たないトークンは拒否されること",
			token: func(t *testing.T) string {
				anonymous := valid
				anonymous.UserID = ""
				return signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), anonymous)
			},
			want: ErrInvalidToken,
		},
		{
			name:  "HS256以外の署名方式は拒否されること",
			token: func(t *testing.T) string { return signClaims(t, jwt.SigningMethodHS512, []byte(testSecret), valid) },
			want:  ErrInvalidToken,
		},
		{
			name:  "不正な文字列は拒否されること",
			token: func(_ *testing.T) string { return "not-a-jwt" },
			want:  ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseToken(testSecret, tt.token(t))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestAuthenticateRequest はWebSocketハンドシェイク用の認証を検証する。
func TestAuthenticateRequest(t *testing.T) {
	t.Parallel()

	tokenStr, err := GenerateJWT(testSecret, "user-ws", "ws@example.com")
	if err != nil {
		t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
	}

	t.Run("Authorizationヘッダーのトークンで認証できること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/ws/notifications", nil)
		req.Header.Set("Authorization", "Bearer "+tokenStr)

		claims, err := AuthenticateRequest(req, testSecret)
		if err != nil {
			t.Fatalf("AuthenticateRequest()でエラーが発生: %v", err)
		}
		if claims.UserID != "user-ws" {
			t.Errorf("UserID = %q, want %q", claims.UserID, "user-ws")
		}
	})

	t.Run("クエリパラメータのトークンで認証できること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/ws/notifications?token="+tokenStr, nil)

		claims, err := AuthenticateRequest(req, testSecret)
		if err != nil {
			t.Fatalf("AuthenticateRequest()でエラーが発生: %v", err)
		}
		if claims.UserID != "user-ws" {
			t.Errorf("UserID = %q, want %q", claims.UserID, "user-ws")
		}
	})

	t.Run("トークンが無い場合はErrMissingTokenになること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/ws/notifications", nil)
		if _, err := AuthenticateRequest(req, testSecret); !errors.Is(err, ErrMissingToken) {
			t.Errorf("err = %v, want %v", err, ErrMissingToken)
		}
	})

	t.Run("Bearer接頭辞が無いヘッダーはErrMalformedTokenになること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/ws/notifications?token="+tokenStr, nil)
		req.Header.Set("Authorization", tokenStr)
		if _, err := AuthenticateRequest(req, testSecret); !errors.Is(err, ErrMalformedToken) {
			t.Errorf("err = %v, want %v", err, ErrMalformedToken)
		}
	})
}

// TestJWTAuth はJWTAuthミドルウェアを検証する。
func TestJWTAuth(t *testing.T) {
	t.Parallel()

	newRouter := func(captured *string) *gin.Engine {
		router := gin.New()
		router.Use(JWTAuth(testSecret))
		router.GET("/test", func(c *gin.Context) {
			*captured = GetUserID(c)
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		return router
	}

	t.Run("有効なトークンでuser_idとX-User-IDヘッダーが設定されること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-ok", "ok@example.com")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		var captured string
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+tokenStr)
		w := httptest.NewRecorder()
		newRouter(&captured).ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if captured != "user-ok" {
			t.Errorf("user_id = %q, want %q", captured, "user-ok")
		}
		if got := w.Header().Get("X-User-ID"); got != "user-ok" {
			t.Errorf("X-User-ID = %q, want %q", got, "user-ok")
		}
	})

	t.Run("クエリパラメータのトークンはAPIでは受け付けないこと", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-q", "q@example.com")
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		var captured string
		w := httptest.NewRecorder()
		newRouter(&captured).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test?token="+tokenStr, nil))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("無効なトークンで401が返ること", func(t *testing.T) {
		t.Parallel()

		var captured string
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer invalid.token.value")
		w := httptest.NewRecorder()
		newRouter(&captured).ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if captured != "" {
			t.Errorf("ハンドラが実行された: user_id = %q", captured)
		}
	})
}

// TestGetUserID はGetUserID関数を検証する。
func TestGetUserID(t *testing.T) {
	t.Parallel()

	t.Run("user_idが文字列以外の型の場合に空文字列が返ること", func(t *testing.T) {
		t.Parallel()

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Set("user_id", 12345)
		if got := GetUserID(c); got != "" {
			t.Errorf("GetUserID() = %q, want empty", got)
		}
	})
}
