package trend

import (
	"math"
	"strings"
	"sync"

	"lifecycle_bot/internal/models"
)

type emaState struct {
	period int
	alpha  float64
	value  float64
	warmup int
}

func newEMA(period int) emaState {
	if period <= 1 {
		period = 1
	}
	return emaState{
		period: period,
		alpha:  2.0 / (float64(period) + 1),
	}
}

func (e *emaState) Update(price float64) {
	if e.warmup == 0 {
		e.value = price
		e.warmup = 1
		return
	}
	e.value = e.alpha*price + (1-e.alpha)*e.value
	if e.warmup < e.period {
		e.warmup++
	}
}

func (e *emaState) Ready() bool    { return e.warmup >= e.period }
func (e *emaState) Value() float64 { return e.value }

// adxState считает ADX по Уайлдеру, сглаживая TR, +DM, -DM и DX с периодом n.
type adxState struct {
	n int

	prevHigh, prevLow, prevClose float64
	bars                         int

	tr, plusDM, minusDM float64
	adx                 float64
	dxCount             int
}

func (a *adxState) Update(high, low, close float64) {
	a.bars++
	if a.bars == 1 {
		a.prevHigh, a.prevLow, a.prevClose = high, low, close
		return
	}

	tr := math.Max(high-low, math.Max(math.Abs(high-a.prevClose), math.Abs(low-a.prevClose)))
	up := high - a.prevHigh
	down := a.prevLow - low
	var pdm, mdm float64
	if up > down && up > 0 {
		pdm = up
	}
	if down > up && down > 0 {
		mdm = down
	}
	a.prevHigh, a.prevLow, a.prevClose = high, low, close

	n := float64(a.n)
	if a.bars <= a.n+1 {
		a.tr += tr
		a.plusDM += pdm
		a.minusDM += mdm
		if a.bars < a.n+1 {
			return
		}
	} else {
		a.tr = a.tr - a.tr/n + tr
		a.plusDM = a.plusDM - a.plusDM/n + pdm
		a.minusDM = a.minusDM - a.minusDM/n + mdm
	}
	if a.tr <= 0 {
		return
	}

	pdi := 100 * a.plusDM / a.tr
	mdi := 100 * a.minusDM / a.tr
	var dx float64
	if pdi+mdi > 0 {
		dx = 100 * math.Abs(pdi-mdi) / (pdi + mdi)
	}
	a.dxCount++
	if a.dxCount <= a.n {
		a.adx += dx / n
		return
	}
	a.adx = (a.adx*(n-1) + dx) / n
}

func (a *adxState) Ready() bool    { return a.dxCount >= a.n }
func (a *adxState) Value() float64 { return a.adx }

// ATR на том же сглаживании.
func (a *adxState) ATR() float64 {
	if a.n <= 0 {
		return 0
	}
	return a.tr / float64(a.n)
}

type IndicatorConfig struct {
	FastEMA   int
	SlowEMA   int
	ADXPeriod int
}

type symbolState struct {
	fast, slow emaState
	adx        adxState
}

// Indicator считает тренд по закрытым свечам и публикует его в Hub.
// Направление по взаимному положению EMA, уверенность как разрыв EMA в ATR.
type Indicator struct {
	cfg IndicatorConfig
	hub *Hub

	mu   sync.Mutex
	syms map[string]*symbolState
}

func NewIndicator(cfg IndicatorConfig, hub *Hub) *Indicator {
	if cfg.FastEMA <= 0 {
		cfg.FastEMA = 20
	}
	if cfg.SlowEMA <= cfg.FastEMA {
		cfg.SlowEMA = cfg.FastEMA * 2
	}
	if cfg.ADXPeriod <= 0 {
		cfg.ADXPeriod = 14
	}
	return &Indicator{cfg: cfg, hub: hub, syms: make(map[string]*symbolState)}
}

// OnCandle возвращает true, когда по символу опубликовано обновление.
func (i *Indicator) OnCandle(c models.Candle) bool {
	key := strings.ToUpper(c.InstID)

	i.mu.Lock()
	st, ok := i.syms[key]
	if !ok {
		st = &symbolState{
			fast: newEMA(i.cfg.FastEMA),
			slow: newEMA(i.cfg.SlowEMA),
			adx:  adxState{n: i.cfg.ADXPeriod},
		}
		i.syms[key] = st
	}
	st.fast.Update(c.Close)
	st.slow.Update(c.Close)
	st.adx.Update(c.High, c.Low, c.Close)

	if !st.fast.Ready() || !st.slow.Ready() || !st.adx.Ready() {
		i.mu.Unlock()
		return false
	}
	fast, slow := st.fast.Value(), st.slow.Value()
	adx, atr := st.adx.Value(), st.adx.ATR()
	i.mu.Unlock()

	dir := models.SideBuy
	if fast < slow {
		dir = models.SideSell
	}
	var conf float64
	if atr > 0 {
		conf = math.Min(1, math.Abs(fast-slow)/atr)
	}
	i.hub.Set(Update{
		Symbol:     c.InstID,
		Direction:  dir,
		ADX:        adx,
		Confidence: conf,
		At:         c.End,
	})
	return true
}
