package models

// ProtectionPreset: режим защиты прибыли в profit-booking цепочке:
// перезаход разрешён только если накопленная прибыль > потенциальный убыток * Multiplier.
type ProtectionPreset struct {
	Name        string
	Description string
	Multiplier  float64
}

const DefaultProtectionMode = "balanced"

var ProtectionPresets = map[string]ProtectionPreset{
	"aggressive": {
		Name:        "🔴 Агрессивный",
		Description: "Перезаход при минимальном запасе прибыли",
		Multiplier:  3.5,
	},
	"balanced": {
		Name:        "🟡 Сбалансированный",
		Description: "Компромисс между защитой и потенциалом",
		Multiplier:  6.0,
	},
	"conservative": {
		Name:        "🟢 Консервативный",
		Description: "Перезаход только при большом запасе",
		Multiplier:  9.0,
	},
	"very_conservative": {
		Name:        "🛡 Очень консервативный",
		Description: "Почти всегда фиксируем и выходим",
		Multiplier:  15.0,
	},
}

// ProtectionMultiplier: множитель для режима, неизвестный режим => balanced.
func ProtectionMultiplier(mode string) float64 {
	if p, ok := ProtectionPresets[mode]; ok {
		return p.Multiplier
	}
	return ProtectionPresets[DefaultProtectionMode].Multiplier
}
