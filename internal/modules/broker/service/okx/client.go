package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"lifecycle_bot/internal/models"
	broker "lifecycle_bot/internal/modules/broker/service"

	"github.com/bytedance/sonic"
)

const defaultBaseURL = "https://www.okx.com"

type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Passphrase string
	Timeout    time.Duration
}

// Client: адаптер OKX SWAP (хедж-режим) под broker.Gateway.
// Тикет позиции = instId:posSide, как ключ трейл-стейта у раннера.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	secret  string
	passph  string

	mu    sync.RWMutex
	metas map[string]instrumentMeta
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		secret:  cfg.APISecret,
		passph:  cfg.Passphrase,
		metas:   make(map[string]instrumentMeta),
	}
}

func (c *Client) sign(ts, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(ts + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type envelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// do выполняет запрос и раскладывает data в out. private => подписываем.
func (c *Client) do(ctx context.Context, method, requestPath string, body any, private bool, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("okx %s marshal: %w", requestPath, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("okx %s new request: %w", requestPath, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if private {
		ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", c.apiKey)
		req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(payload)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("okx %s do: %v: %w", requestPath, err, broker.ErrTransient)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
		return fmt.Errorf("okx %s http %d: %s: %w", requestPath, resp.StatusCode, string(data), broker.ErrTransient)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("okx %s http %d: %s: %w", requestPath, resp.StatusCode, string(data), broker.ErrRejected)
	}

	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("okx %s decode: %w; body=%s", requestPath, err, string(data))
	}
	if env.Code != "0" {
		return fmt.Errorf("okx %s error: code=%s msg=%s: %w", requestPath, env.Code, env.Msg, classify(env.Code))
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("okx %s decode data: %w", requestPath, err)
	}
	return nil
}

// classify: коды OKX 51008 (маржа), 51001 (инструмент), 50011 (rate limit).
func classify(code string) error {
	switch code {
	case "51008", "51004":
		return broker.ErrInsufficientMargin
	case "51001":
		return broker.ErrUnknownSymbol
	case "50011", "50013", "50001":
		return broker.ErrTransient
	default:
		return broker.ErrRejected
	}
}

func posSide(side models.Side) string {
	if side == models.SideSell {
		return "short"
	}
	return "long"
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func formatSize(v float64) string  { return strconv.FormatFloat(v, 'f', -1, 64) }
func formatPrice(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

var _ broker.Gateway = (*Client)(nil)
