package config

import (
	"strings"
	"sync/atomic"
	"time"

	"lifecycle_bot/internal/models"
	"lifecycle_bot/pkg/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RiskLimits: лимиты активного риск-тира.
type RiskLimits struct {
	Tier              string
	DailyLossLimit    float64
	LifetimeLossLimit float64
	MaxRiskPerTrade   float64
	MinMarginLevel    float64
	MinFreeMargin     float64
	MaxTradesPerDay   int
}

// TrendThresholds: пороги «сильного» тренда для перезаходов и TP1.
type TrendThresholds struct {
	ADX        float64
	Confidence float64
}

// Provider: типизированный доступ к торговым параметрам.
// Значения не кешируются: каждый геттер читает текущий снапшот,
// снапшот подменяется целиком при изменении файла.
type Provider struct {
	current atomic.Pointer[viper.Viper]
	path    string
}

func NewProvider(cfg *Config) (*Provider, error) {
	p := &Provider{path: cfg.Path}
	v, err := p.load()
	if err != nil {
		return nil, err
	}
	p.current.Store(v)
	return p, nil
}

// NewProviderWithValues: провайдер без файла, значения поверх дефолтов.
func NewProviderWithValues(values map[string]any) *Provider {
	v := viper.New()
	setDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	p := &Provider{}
	p.current.Store(v)
	return p
}

func (p *Provider) load() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	if p.path == "" {
		return v, nil
	}
	v.SetConfigFile(p.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}

// Watch перечитывает файл при изменении. Сам watcher-инстанс наружу не читается.
func (p *Provider) Watch() {
	if p.path == "" {
		return
	}
	w := viper.New()
	w.SetConfigFile(p.path)
	w.SetConfigType("yaml")
	if err := w.ReadInConfig(); err != nil {
		logger.Warn("config watch disabled: %v", err)
		return
	}
	w.OnConfigChange(func(e fsnotify.Event) {
		next, err := p.load()
		if err != nil {
			logger.Error("config reload %s: %v", e.Name, err)
			return
		}
		p.current.Store(next)
		logger.Info("config reloaded: %s", e.Name)
	})
	w.WatchConfig()
}

// Set: точечная подмена значения (для админки и тестов).
func (p *Provider) Set(key string, value any) {
	cur := p.current.Load()
	next := viper.New()
	for _, k := range cur.AllKeys() {
		next.Set(k, cur.Get(k))
	}
	next.Set(key, value)
	p.current.Store(next)
}

func (p *Provider) v() *viper.Viper { return p.current.Load() }

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.simulation", true)

	v.SetDefault("monitor.tick_interval", "1s")
	v.SetDefault("monitor.breaker_threshold", 10)
	v.SetDefault("reconcile.interval", "5s")

	v.SetDefault("risk.tier", "default")
	v.SetDefault("risk.per_trade_usd", 50.0)
	v.SetDefault("risk.tiers.default.daily_loss_limit", 200.0)
	v.SetDefault("risk.tiers.default.lifetime_loss_limit", 1000.0)
	v.SetDefault("risk.tiers.default.max_risk_per_trade", 100.0)
	v.SetDefault("risk.tiers.default.min_margin_level", 150.0)
	v.SetDefault("risk.tiers.default.min_free_margin", 0.0)
	v.SetDefault("risk.tiers.default.max_trades_per_day", 0)

	v.SetDefault("orders.fixed_risk_usd", 10.0)
	v.SetDefault("orders.default_sl_pips", 50.0)
	v.SetDefault("orders.default_rr", 2.0)
	v.SetDefault("orders.near_tp_rr", 1.0)
	v.SetDefault("orders.comment_prefix", "lcb")

	v.SetDefault("recovery.enabled", true)
	v.SetDefault("recovery.trigger_mode", "percent")
	v.SetDefault("recovery.retrace_fraction", 0.70)
	v.SetDefault("recovery.offset_pips", 1.0)
	v.SetDefault("recovery.window_minutes", 30)
	v.SetDefault("recovery.tier_windows.low", 60)
	v.SetDefault("recovery.tier_windows.medium", 30)
	v.SetDefault("recovery.tier_windows.high", 15)
	v.SetDefault("recovery.max_attempts", 3)
	v.SetDefault("recovery.max_levels", 3)
	v.SetDefault("recovery.sl_reduction_per_level", 0.2)
	v.SetDefault("recovery.min_sl_fraction", 0.3)
	v.SetDefault("recovery.rr", 1.5)
	v.SetDefault("recovery.cooldown_seconds", 60)

	v.SetDefault("continuation.enabled", true)
	v.SetDefault("continuation.gap_pips", 2.0)
	v.SetDefault("continuation.window_minutes", 30)
	v.SetDefault("continuation.max_levels", 2)

	v.SetDefault("profit.enabled", true)
	v.SetDefault("profit.max_levels", 4)
	v.SetDefault("profit.sl_reduction_per_level", 0.1)
	v.SetDefault("profit.lot_reduction_per_level", 0.25)
	v.SetDefault("profit.protection_mode", models.DefaultProtectionMode)

	v.SetDefault("trend.adx_threshold", 25.0)
	v.SetDefault("trend.confidence_threshold", 0.6)
	v.SetDefault("trend.fast_ema", 20)
	v.SetDefault("trend.slow_ema", 50)
	v.SetDefault("trend.adx_period", 14)

	v.SetDefault("exit.partial_close_fraction", 0.5)
	v.SetDefault("exit.reversal_enabled", true)
}

func (p *Provider) Simulation() bool { return p.v().GetBool("trading.simulation") }

func (p *Provider) TickInterval() time.Duration {
	return positiveDuration(p.v().GetDuration("monitor.tick_interval"), time.Second)
}

func (p *Provider) BreakerThreshold() int { return p.v().GetInt("monitor.breaker_threshold") }

func (p *Provider) ReconcileInterval() time.Duration {
	return positiveDuration(p.v().GetDuration("reconcile.interval"), 5*time.Second)
}

func (p *Provider) RiskLimits() RiskLimits {
	v := p.v()
	tier := v.GetString("risk.tier")
	prefix := "risk.tiers." + tier + "."
	if !v.IsSet(prefix + "daily_loss_limit") {
		tier = "default"
		prefix = "risk.tiers.default."
	}
	return RiskLimits{
		Tier:              tier,
		DailyLossLimit:    v.GetFloat64(prefix + "daily_loss_limit"),
		LifetimeLossLimit: v.GetFloat64(prefix + "lifetime_loss_limit"),
		MaxRiskPerTrade:   v.GetFloat64(prefix + "max_risk_per_trade"),
		MinMarginLevel:    v.GetFloat64(prefix + "min_margin_level"),
		MinFreeMargin:     v.GetFloat64(prefix + "min_free_margin"),
		MaxTradesPerDay:   v.GetInt(prefix + "max_trades_per_day"),
	}
}

func (p *Provider) RiskPerTrade() float64  { return p.v().GetFloat64("risk.per_trade_usd") }
func (p *Provider) FixedRiskUSD() float64  { return p.v().GetFloat64("orders.fixed_risk_usd") }
func (p *Provider) DefaultSLPips() float64 { return p.v().GetFloat64("orders.default_sl_pips") }
func (p *Provider) DefaultRR() float64     { return p.v().GetFloat64("orders.default_rr") }
func (p *Provider) NearTPRR() float64      { return p.v().GetFloat64("orders.near_tp_rr") }
func (p *Provider) CommentPrefix() string  { return p.v().GetString("orders.comment_prefix") }

func (p *Provider) RecoveryEnabled() bool       { return p.v().GetBool("recovery.enabled") }
func (p *Provider) RecoveryTriggerMode() string { return p.v().GetString("recovery.trigger_mode") }
func (p *Provider) RetraceFraction() float64    { return p.v().GetFloat64("recovery.retrace_fraction") }
func (p *Provider) SLHuntOffsetPips() float64   { return p.v().GetFloat64("recovery.offset_pips") }
func (p *Provider) RecoveryMaxAttempts() int    { return p.v().GetInt("recovery.max_attempts") }
func (p *Provider) RecoveryRR() float64         { return p.v().GetFloat64("recovery.rr") }
func (p *Provider) MinSLFraction() float64      { return p.v().GetFloat64("recovery.min_sl_fraction") }

func (p *Provider) SLReductionPerLevel() float64 {
	return p.v().GetFloat64("recovery.sl_reduction_per_level")
}

func (p *Provider) Cooldown() time.Duration {
	return time.Duration(p.v().GetInt("recovery.cooldown_seconds")) * time.Second
}

// RecoveryWindow: персональный override символа, иначе окно тира волатильности, иначе глобальное.
func (p *Provider) RecoveryWindow(symbol string) time.Duration {
	return p.window("recovery", symbol)
}

func (p *Provider) ContinuationWindow(symbol string) time.Duration {
	return p.window("continuation", symbol)
}

func (p *Provider) window(section, symbol string) time.Duration {
	v := p.v()
	sym := strings.ToLower(symbol)
	if key := section + ".window_overrides." + sym; v.IsSet(key) {
		if m := v.GetInt(key); m > 0 {
			return time.Duration(m) * time.Minute
		}
	}
	if tier := v.GetString("recovery.symbol_tiers." + sym); tier != "" {
		if m := v.GetInt("recovery.tier_windows." + tier); m > 0 {
			return time.Duration(m) * time.Minute
		}
	}
	m := v.GetInt(section + ".window_minutes")
	if m <= 0 {
		m = 30
	}
	return time.Duration(m) * time.Minute
}

func (p *Provider) ContinuationEnabled() bool { return p.v().GetBool("continuation.enabled") }
func (p *Provider) ContinuationGapPips() float64 {
	return p.v().GetFloat64("continuation.gap_pips")
}

// MaxChainLevels: лимит уровней по типу цепочки.
func (p *Provider) MaxChainLevels(kind models.ChainKind) int {
	switch kind {
	case models.ChainTPContinuation:
		return p.v().GetInt("continuation.max_levels")
	case models.ChainProfitBooking:
		return p.v().GetInt("profit.max_levels")
	default:
		return p.v().GetInt("recovery.max_levels")
	}
}

// ChainReduction: шаг уменьшения на уровень по типу цепочки.
func (p *Provider) ChainReduction(kind models.ChainKind) float64 {
	if kind == models.ChainProfitBooking {
		return p.v().GetFloat64("profit.sl_reduction_per_level")
	}
	return p.SLReductionPerLevel()
}

func (p *Provider) ProfitEnabled() bool { return p.v().GetBool("profit.enabled") }
func (p *Provider) ProfitLotReduction() float64 {
	return p.v().GetFloat64("profit.lot_reduction_per_level")
}
func (p *Provider) ProtectionMode() string { return p.v().GetString("profit.protection_mode") }
func (p *Provider) ProtectionMultiplier() float64 {
	return models.ProtectionMultiplier(p.ProtectionMode())
}

func (p *Provider) TrendThresholds() TrendThresholds {
	return TrendThresholds{
		ADX:        p.v().GetFloat64("trend.adx_threshold"),
		Confidence: p.v().GetFloat64("trend.confidence_threshold"),
	}
}

// IndicatorPeriods: периоды EMA и ADX для индикатора по свечам; читаются один раз при старте.
func (p *Provider) IndicatorPeriods() (fast, slow, adx int) {
	return p.v().GetInt("trend.fast_ema"), p.v().GetInt("trend.slow_ema"), p.v().GetInt("trend.adx_period")
}

func (p *Provider) PartialCloseFraction() float64 {
	f := p.v().GetFloat64("exit.partial_close_fraction")
	if f <= 0 || f > 1 {
		return 0.5
	}
	return f
}

func (p *Provider) ReversalEnabled() bool { return p.v().GetBool("exit.reversal_enabled") }

func positiveDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
