package runner

import (
	"fmt"
	"strings"

	"lifecycle_bot/internal/engine/monitor"
	"lifecycle_bot/internal/models"
)

func formatStatus(rs models.RiskState, ms monitor.State, open, chains int) string {
	var b strings.Builder
	b.WriteString("📊 Статус\n")
	fmt.Fprintf(&b, "PnL за день: %.2f$ (сделок %d)\n", rs.DailyPnL, rs.TradesToday)
	fmt.Fprintf(&b, "PnL всего: %.2f$\n", rs.LifetimePnL)
	fmt.Fprintf(&b, "Позиции: %d, цепочки: %d, ожидания: %d\n", open, chains, ms.Watches)
	if ms.CircuitOpen {
		fmt.Fprintf(&b, "🚨 Монитор остановлен: %s", ms.LastError)
	} else {
		b.WriteString("Монитор: ок")
	}
	return b.String()
}

func formatPositions(list []*models.Position) string {
	if len(list) == 0 {
		return "Открытых позиций нет"
	}
	var b strings.Builder
	for _, p := range list {
		fmt.Fprintf(&b, "%s %s %s lot=%.2f entry=%.5f sl=%.5f tp=%.5f [%s]\n",
			p.Ticket, p.Symbol, p.Side, p.Lot, p.Entry, p.SL, p.TP, p.Role)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatChains(list []*models.Chain) string {
	if len(list) == 0 {
		return "Активных цепочек нет"
	}
	var b strings.Builder
	for _, c := range list {
		fmt.Fprintf(&b, "%s %s %s уровень %d/%d", c.Kind, c.Symbol, c.Side, c.Level, c.MaxLevels)
		if c.Kind == models.ChainProfitBooking {
			fmt.Fprintf(&b, " профит %.2f$", c.AccumulatedProfit)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
