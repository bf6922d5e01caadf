package recovery

import "lifecycle_bot/internal/models"

const (
	ModePercent = "percent"
	ModeOffset  = "offset"

	defaultFraction = 0.7
)

// Trigger: цена возврата после SL, всегда строго между SL и входом.
// percent: SL + fraction*(entry-SL); offset: SL ± offsetPips, а если
// отступ не помещается в диапазон, то percent.
func Trigger(mode string, side models.Side, entry, sl, fraction, offsetPips, pipSize float64) float64 {
	if fraction <= 0 || fraction >= 1 {
		fraction = defaultFraction
	}
	percent := sl + fraction*(entry-sl)
	if mode != ModeOffset || offsetPips <= 0 || pipSize <= 0 {
		return percent
	}
	t := sl + side.Sign()*offsetPips*pipSize
	if !strictlyBetween(t, sl, entry) {
		return percent
	}
	return t
}

func strictlyBetween(v, a, b float64) bool {
	if a > b {
		a, b = b, a
	}
	return v > a && v < b
}

// ContinuationTrigger: откат от TP на gap пипсов против стороны позиции.
func ContinuationTrigger(side models.Side, tp, gapPips, pipSize float64) float64 {
	return tp - side.Sign()*gapPips*pipSize
}
