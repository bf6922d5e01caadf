package service

import (
	"context"
	"fmt"
	"sync"

	"lifecycle_bot/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Command: ответ на команду оператора (/status, /positions).
type Command func(ctx context.Context) string

// Telegram: пассивный нотифайер оператору + несколько read-only команд.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64

	mu       sync.RWMutex
	commands map[string]Command
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{
		bot:      b,
		chatID:   chatID,
		commands: make(map[string]Command),
	}, nil
}

func (t *Telegram) Send(_ context.Context, text string) error {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return nil
	}
	_, err := t.bot.Send(tgbot.NewMessage(t.chatID, text))
	return err
}

// Handle регистрирует обработчик команды без слэша.
func (t *Telegram) Handle(name string, cmd Command) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commands[name] = cmd
}

// Start: long-polling, отвечаем только своему чату.
func (t *Telegram) Start(ctx context.Context) {
	if t == nil || t.bot == nil {
		return
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				if upd.Message == nil || upd.Message.Chat == nil ||
					upd.Message.Chat.ID != t.chatID || !upd.Message.IsCommand() {
					continue
				}
				t.mu.RLock()
				cmd, ok := t.commands[upd.Message.Command()]
				t.mu.RUnlock()
				if !ok {
					continue
				}
				go func() {
					if err := t.Send(ctx, cmd(ctx)); err != nil {
						logger.Warn("telegram command %s: %v", upd.Message.Command(), err)
					}
				}()
			}
		}
	}()
}

func (t *Telegram) Stop() {
	if t == nil || t.bot == nil {
		return
	}
	t.bot.StopReceivingUpdates()
}
