package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// TestLoad は環境変数からの設定読み込みを検証する。
// t.Setenvを使うため並列実行しない。
func TestLoad(t *testing.T) {
	t.Run("環境変数が無い場合は既定値になること", func(t *testing.T) {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if cfg.Port != "8086" {
			t.Errorf("Port = %q, want %q", cfg.Port, "8086")
		}
		if cfg.StoreDriver != DriverSQLite {
			t.Errorf("StoreDriver = %q, want %q", cfg.StoreDriver, DriverSQLite)
		}
		if cfg.WriteWait != 10*time.Second {
			t.Errorf("WriteWait = %v, want %v", cfg.WriteWait, 10*time.Second)
		}
		if cfg.FanoutTimeout != 30*time.Second {
			t.Errorf("FanoutTimeout = %v, want %v", cfg.FanoutTimeout, 30*time.Second)
		}
		if cfg.AuditTimeout != 5*time.Second {
			t.Errorf("AuditTimeout = %v, want %v", cfg.AuditTimeout, 5*time.Second)
		}
		if cfg.SendQueueSize != 16 {
			t.Errorf("SendQueueSize = %d, want 16", cfg.SendQueueSize)
		}
		if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"http://localhost:3000"}) {
			t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
		}
	})

	t.Run("環境変数で上書きできること", func(t *testing.T) {
		t.Setenv("PORT", "9000")
		t.Setenv("PONG_WAIT", "30s")
		t.Setenv("FANOUT_CONCURRENCY", "3")
		t.Setenv("AUDIT_TIMEOUT", "2s")
		t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if cfg.Port != "9000" {
			t.Errorf("Port = %q, want %q", cfg.Port, "9000")
		}
		if cfg.PongWait != 30*time.Second {
			t.Errorf("PongWait = %v, want %v", cfg.PongWait, 30*time.Second)
		}
		if cfg.AuditTimeout != 2*time.Second {
			t.Errorf("AuditTimeout = %v, want %v", cfg.AuditTimeout, 2*time.Second)
		}
		if cfg.FanoutConcurrency != 3 {
			t.Errorf("FanoutConcurrency = %d, want 3", cfg.FanoutConcurrency)
		}
		want := []string{"https://a.example", "https://b.example"}
		if !reflect.DeepEqual(cfg.AllowedOrigins, want) {
			t.Errorf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
		}
	})

	t.Run("mongoドライバーでURIが無い場合はエラーになること", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", DriverMongo)

		_, err := Load()
		if err == nil {
			t.Fatal("Load()がエラーを返すべきだが、nilが返った")
		}
		if !strings.Contains(err.Error(), "MONGO_URI") {
			t.Errorf("err = %v, MONGO_URI に言及していない", err)
		}
	})

	t.Run("0以下の制限時間はエラーになること", func(t *testing.T) {
		t.Setenv("FANOUT_TIMEOUT", "0s")

		_, err := Load()
		if err == nil {
			t.Fatal("Load()がエラーを返すべきだが、nilが返った")
		}
		if !strings.Contains(err.Error(), "FANOUT_TIMEOUT") {
			t.Errorf("err = %v, FANOUT_TIMEOUT に言及していない", err)
		}
	})

	t.Run("不明なドライバーはエラーになること", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "redis")

		if _, err := Load(); err == nil {
			t.Fatal("Load()がエラーを返すべきだが、nilが返った")
		}
	})
}
