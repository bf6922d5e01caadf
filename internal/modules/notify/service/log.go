package service

import (
	"context"
	"strings"

	"lifecycle_bot/pkg/logger"
)

// Log: backend для simulation и для случая без токена Telegram.
type Log struct{}

func NewLog() *Log { return &Log{} }

func (Log) Send(_ context.Context, text string) error {
	logger.Info("notify: %s", strings.ReplaceAll(text, "\n", " | "))
	return nil
}
