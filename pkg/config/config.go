// Package config は環境変数と .env ファイルからサービス設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ストアドライバーの識別子。
const (
	// DriverSQLite はSQLiteをストアとして使用する。
	DriverSQLite = "sqlite"
	// DriverMongo はMongoDBをストアとして使用する。
	DriverMongo = "mongo"
)

// Config は通知サービスの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `mapstructure:"port"`
	// StoreDriver は通知ストアの実装（sqlite または mongo）。
	StoreDriver string `mapstructure:"store_driver"`
	// DatabasePath はSQLiteデータベースファイルのパス。
	DatabasePath string `mapstructure:"database_path"`
	// MongoURI はMongoDBの接続URI。
	MongoURI string `mapstructure:"mongo_uri"`
	// MongoDatabase はMongoDBのデータベース名。
	MongoDatabase string `mapstructure:"mongo_database"`
	// JWTSecret はJWT検証用の秘密鍵。
	JWTSecret string `mapstructure:"jwt_secret"`
	// EventStoreURL は配信記録を送るEvent StoreのベースURL。空なら送信しない。
	EventStoreURL string `mapstructure:"eventstore_url"`
	// AuditTimeout はEvent Storeへの1回の記録リクエストの制限時間。
	AuditTimeout time.Duration `mapstructure:"audit_timeout"`
	// AllowedOrigins はCORSとWebSocketで許可するオリジン。
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// SendQueueSize はセッションごとの送信キューの容量。
	SendQueueSize int `mapstructure:"send_queue_size"`
	// WriteWait はWebSocketへの1回の書き込みの制限時間。
	WriteWait time.Duration `mapstructure:"write_wait"`
	// PongWait はクライアントからのPongを待つ時間。
	PongWait time.Duration `mapstructure:"pong_wait"`
	// MaxMessageSize はクライアントから受け付けるメッセージの最大サイズ。
	MaxMessageSize int64 `mapstructure:"max_message_size"`
	// FanoutConcurrency は1イベントあたりの並列配信数の上限。
	FanoutConcurrency int `mapstructure:"fanout_concurrency"`
	// FanoutTimeout は1イベント分の通知作成と配信の制限時間。
	FanoutTimeout time.Duration `mapstructure:"fanout_timeout"`
	// ShutdownTimeout はグレースフルシャットダウンの制限時間。
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// LogLevel はログレベル。
	LogLevel string `mapstructure:"log_level"`
}

// defaults は各設定キーの既定値。
var defaults = map[string]any{
	"port":               "8086",
	"store_driver":       DriverSQLite,
	"database_path":      "/data/notification.db",
	"mongo_uri":          "",
	"mongo_database":     "notification",
	"jwt_secret":         "dev-secret-key",
	"eventstore_url":     "",
	"audit_timeout":      "5s",
	"allowed_origins":    "http://localhost:3000",
	"send_queue_size":    16,
	"write_wait":         "10s",
	"pong_wait":          "60s",
	"max_message_size":   4096,
	"fanout_concurrency": 8,
	"fanout_timeout":     "30s",
	"shutdown_timeout":   "10s",
	"log_level":          "info",
}

// Load は .env ファイル（存在する場合）と環境変数から設定を読み込む。
// 環境変数名は設定キーを大文字にしたもの（例: STORE_DRIVER）。
func Load() (*Config, error) {
	// .env が無い環境（コンテナ等）では環境変数のみを使う
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("環境変数のバインドに失敗 (%s): %w", key, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	cfg.AllowedOrigins = splitOrigins(v.GetString("allowed_origins"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitOrigins はカンマ区切りのオリジン一覧を分割する。
func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverSQLite:
		if c.DatabasePath == "" {
			errs = append(errs, errors.New("DATABASE_PATH が空です"))
		}
	case DriverMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("STORE_DRIVER=mongo には MONGO_URI が必要です"))
		}
	default:
		errs = append(errs, fmt.Errorf("不明な STORE_DRIVER です: %q", c.StoreDriver))
	}
	if c.SendQueueSize <= 0 {
		errs = append(errs, errors.New("SEND_QUEUE_SIZE は1以上である必要があります"))
	}
	if c.FanoutConcurrency <= 0 {
		errs = append(errs, errors.New("FANOUT_CONCURRENCY は1以上である必要があります"))
	}
	if c.WriteWait <= 0 || c.PongWait <= 0 {
		errs = append(errs, errors.New("WRITE_WAIT と PONG_WAIT は正の値である必要があります"))
	}
	if c.FanoutTimeout <= 0 || c.AuditTimeout <= 0 {
		errs = append(errs, errors.New("FANOUT_TIMEOUT と AUDIT_TIMEOUT は正の値である必要があります"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET が空です"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("設定が不正です: %w", errors.Join(errs...))
	}
	return nil
}
