// 通知サービスのエントリポイント。
// 投稿サービスからのイベントを受けて通知を永続化し、
// 接続中のWebSocketセッションへリアルタイムに配信する。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/postnotify/internal/notification"
	"github.com/nao1215/postnotify/pkg/config"
	"github.com/nao1215/postnotify/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("設定の読み込みに失敗")
	}

	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := notification.NewServer(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("通知サーバーの初期化に失敗")
	}

	if err := server.Run(ctx); err != nil {
		log.WithError(err).Error("通知サービスが異常終了しました")
		stop()
		os.Exit(1)
	}
	log.Info("通知サービスを停止しました")
}
