package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"lifecycle_bot/internal/engine/trend"
	"lifecycle_bot/internal/models"

	"github.com/bytedance/sonic"
)

var ErrUnknownType = errors.New("unknown message type")

// Message: кадр фида, торговый сигнал или обновление тренда.
type Message struct {
	Type string `json:"type"` // signal | trend

	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Entry    float64 `json:"entry"`
	SL       float64 `json:"sl"`
	TP1      float64 `json:"tp1"`
	TP2      float64 `json:"tp2"`
	TP3      float64 `json:"tp3"`
	Strategy string  `json:"strategy"`
	Reason   string  `json:"reason"`

	Direction  string  `json:"direction"`
	ADX        float64 `json:"adx"`
	Confidence float64 `json:"confidence"`

	TS int64 `json:"ts"` // unix ms, 0 => время получения
}

// Decoded: ровно одно из полей заполнено.
type Decoded struct {
	Signal *models.Signal
	Trend  *trend.Update
}

// Decode разбирает кадр сразу в типизированную форму с явными дефолтами.
func Decode(raw []byte, now time.Time) (Decoded, error) {
	var m Message
	if err := sonic.Unmarshal(raw, &m); err != nil {
		return Decoded{}, fmt.Errorf("signalfeed.Decode: %w", err)
	}
	at := now
	if m.TS > 0 {
		at = time.UnixMilli(m.TS).UTC()
	}
	symbol := strings.ToUpper(strings.TrimSpace(m.Symbol))

	switch strings.ToLower(m.Type) {
	case "", "signal":
		s := models.Signal{
			Symbol:     symbol,
			Side:       models.ParseSide(m.Side),
			Entry:      m.Entry,
			SL:         m.SL,
			TP1:        m.TP1,
			TP2:        m.TP2,
			TP3:        m.TP3,
			Strategy:   m.Strategy,
			Reason:     m.Reason,
			ReceivedAt: at,
		}
		if s.Strategy == "" {
			s.Strategy = "feed"
		}
		if err := s.Validate(); err != nil {
			return Decoded{}, fmt.Errorf("signalfeed.Decode: %w", err)
		}
		return Decoded{Signal: &s}, nil
	case "trend":
		dir := models.ParseSide(m.Direction)
		if symbol == "" || dir == models.SideNone {
			return Decoded{}, fmt.Errorf("signalfeed.Decode: trend without symbol or direction")
		}
		return Decoded{Trend: &trend.Update{
			Symbol:     symbol,
			Direction:  dir,
			ADX:        m.ADX,
			Confidence: m.Confidence,
			At:         at,
		}}, nil
	default:
		return Decoded{}, fmt.Errorf("signalfeed.Decode: %w: %q", ErrUnknownType, m.Type)
	}
}
