package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"lifecycle_bot/internal/metrics"
	"lifecycle_bot/internal/models"
	"lifecycle_bot/pkg/logger"
)

type Fields map[string]any

// Sink: куда ядро отдаёт уведомления. Notify не блокирует и не возвращает ошибок.
type Sink interface {
	Notify(kind models.NotifyKind, fields Fields)
}

// Backend: конкретный канал доставки (Telegram, лог).
type Backend interface {
	Send(ctx context.Context, text string) error
}

type Message struct {
	Kind   models.NotifyKind
	Fields Fields
	At     time.Time
}

// Queue: асинхронная очередь перед backend'ом. Переполнение => сообщение выбрасывается.
type Queue struct {
	ch       chan Message
	backends []Backend

	mu     sync.Mutex
	recent []Message
	keep   int
}

func NewQueue(size int, backends ...Backend) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{
		ch:       make(chan Message, size),
		backends: backends,
		keep:     50,
	}
}

func (q *Queue) Notify(kind models.NotifyKind, fields Fields) {
	msg := Message{Kind: kind, Fields: fields, At: time.Now().UTC()}
	q.remember(msg)
	select {
	case q.ch <- msg:
	default:
		metrics.NotificationsDropped.Inc()
		logger.Warn("notify queue full, dropped %s", kind)
	}
}

// Run разбирает очередь до отмены ctx, остаток дописывает в лог.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case msg := <-q.ch:
					logger.Info("notify (shutdown) %s", Format(msg.Kind, msg.Fields))
				default:
					return
				}
			}
		case msg := <-q.ch:
			text := Format(msg.Kind, msg.Fields)
			for _, b := range q.backends {
				sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				if err := b.Send(sendCtx, text); err != nil {
					metrics.NotificationsDropped.Inc()
					logger.Warn("notify %s: send failed: %v", msg.Kind, err)
				}
				cancel()
			}
		}
	}
}

func (q *Queue) remember(msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recent = append(q.recent, msg)
	if len(q.recent) > q.keep {
		q.recent = q.recent[len(q.recent)-q.keep:]
	}
}

// Recent: последние уведомления, новые в конце.
func (q *Queue) Recent() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.recent...)
}

var icons = map[models.NotifyKind]string{
	models.NotifyOrderPlaced:        "🟢",
	models.NotifyOrderFailed:        "❗️",
	models.NotifyRiskRejected:       "⛔️",
	models.NotifyPositionClosed:     "📕",
	models.NotifyCloseFailed:        "❗️",
	models.NotifyReentryExecuted:    "🔁",
	models.NotifyReentrySkipped:     "⏭",
	models.NotifyReentryFailed:      "❗️",
	models.NotifyRecoveryArmed:      "🎯",
	models.NotifyRecoveryTimeout:    "⏳",
	models.NotifyRecoveryExhausted:  "🏁",
	models.NotifyProfitBooked:       "💰",
	models.NotifyProfitBlocked:      "🛡",
	models.NotifyProfitComplete:     "🏁",
	models.NotifyExitDecision:       "🧭",
	models.NotifyReconciled:         "🔄",
	models.NotifyCircuitOpen:        "🚨",
	models.NotifyStateInconsistency: "⚠️",
}

// Format: одна строка заголовка и поля key: value в стабильном порядке.
func Format(kind models.NotifyKind, fields Fields) string {
	var b strings.Builder
	icon := icons[kind]
	if icon == "" {
		icon = "ℹ️"
	}
	fmt.Fprintf(&b, "%s %s", icon, kind)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := fields[k].(type) {
		case float64:
			fmt.Fprintf(&b, "\n%s: %s", k, trimFloat(v))
		default:
			fmt.Fprintf(&b, "\n%s: %v", k, v)
		}
	}
	return b.String()
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.5f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

var _ Sink = (*Queue)(nil)
