// Package logger はサービス共通のlogrusロガーを構築する。
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New はJSON形式で標準出力に書き出すロガーを生成する。
// levelが解釈できない場合はInfoレベルになる。
func New(level string) *logrus.Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter は出力先を指定してロガーを生成する。
func NewWithWriter(w io.Writer, level string) *logrus.Logger {
	log := logrus.New()
	log.Out = w
	log.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
