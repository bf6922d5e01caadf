package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lifecycle_bot/internal/models"
	"lifecycle_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

const pingInterval = 20 * time.Second

type Config struct {
	URL       string
	Symbols   []string
	Timeframe string
}

// Stream: один WebSocket на таймфрейм с пачкой инструментов в args.
// Отдаёт только закрытые свечи (confirm == "1").
type Stream struct {
	cfg    Config
	dialer *websocket.Dialer

	// OnConnect для health: true после подписки, false при разрыве.
	OnConnect func(bool)
}

func NewStream(cfg Config) *Stream {
	return &Stream{cfg: cfg, dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}}
}

func (s *Stream) channel() string { return "candle" + s.cfg.Timeframe }

func (s *Stream) connected(v bool) {
	if s.OnConnect != nil {
		s.OnConnect(v)
	}
}

// Candles переподключается с экспоненциальной паузой, пока жив ctx.
func (s *Stream) Candles(ctx context.Context) <-chan models.Candle {
	ch := make(chan models.Candle, 256)
	go func() {
		defer close(ch)
		if len(s.cfg.Symbols) == 0 {
			return
		}
		b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
		for {
			err := s.session(ctx, ch)
			s.connected(false)
			if ctx.Err() != nil {
				return
			}
			d := b.Duration()
			logger.Warn("marketdata: %s session ended: %v, reconnect in %s", s.channel(), err, d)
			select {
			case <-ctx.Done():
				return
			case <-time.After(d):
			}
		}
	}()
	return ch
}

func (s *Stream) session(ctx context.Context, out chan<- models.Candle) error {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	args := make([]map[string]string, 0, len(s.cfg.Symbols))
	for _, id := range s.cfg.Symbols {
		args = append(args, map[string]string{"channel": s.channel(), "instId": id})
	}
	sub, err := sonic.Marshal(map[string]any{"op": "subscribe", "args": args})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	logger.Info("marketdata: subscribed %s for %d instruments", s.channel(), len(args))
	s.connected(true)

	// OKX рвёт соединение без ping ~30s
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-stop:
				return
			case <-t.C:
				_ = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		candles, err := ParseFrame(msg, s.channel(), s.cfg.Timeframe)
		if err != nil {
			logger.Debug("marketdata: skip frame: %v", err)
			continue
		}
		for _, c := range candles {
			select {
			case out <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

type frame struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data [][]string `json:"data"`
}

// ParseFrame разбирает кадр OKX: data = [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
// Служебные кадры (pong, event) дают пустой результат без ошибки.
func ParseFrame(msg []byte, channel, timeframe string) ([]models.Candle, error) {
	if len(msg) == 0 || msg[0] != '{' {
		return nil, nil
	}
	var f frame
	if err := sonic.Unmarshal(msg, &f); err != nil {
		return nil, err
	}
	if f.Arg.Channel != channel || len(f.Data) == 0 {
		return nil, nil
	}

	return ParseRows(f.Arg.InstID, timeframe, f.Data), nil
}

// ParseRows: строки свечей OKX в модели; незакрытые и битые строки пропускаются.
func ParseRows(instID, timeframe string, rows [][]string) []models.Candle {
	dur := TimeframeDuration(timeframe)
	out := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 || row[len(row)-1] != "1" {
			continue
		}
		tsMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		o, err1 := strconv.ParseFloat(row[1], 64)
		h, err2 := strconv.ParseFloat(row[2], 64)
		l, err3 := strconv.ParseFloat(row[3], 64)
		c, err4 := strconv.ParseFloat(row[4], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || c <= 0 {
			continue
		}
		var vol float64
		if len(row) >= 6 {
			vol, _ = strconv.ParseFloat(row[5], 64)
		}
		start := time.UnixMilli(tsMs).UTC()
		out = append(out, models.Candle{
			InstID:    instID,
			Timeframe: timeframe,
			Open:      o,
			High:      h,
			Low:       l,
			Close:     c,
			Volume:    vol,
			Start:     start,
			End:       start.Add(dur),
		})
	}
	return out
}

func TimeframeDuration(tf string) time.Duration {
	switch strings.ToLower(tf) {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	default:
		return 0
	}
}
