package orders

import (
	"fmt"

	"lifecycle_bot/internal/models"
)

// ValidateStops: SL ниже цены и TP выше для long (для short наоборот).
// Не та сторона => ошибка, слишком близко => расширяем до минимума брокера.
// tp == 0 означает «без TP».
func ValidateStops(side models.Side, price, sl, tp, minDist float64) (float64, float64, error) {
	s := side.Sign()
	if sl <= 0 || (price-sl)*s <= 0 {
		return 0, 0, fmt.Errorf("%w: sl %.5f on wrong side of %.5f for %s", ErrInvalidStops, sl, price, side)
	}
	if tp > 0 && (tp-price)*s <= 0 {
		return 0, 0, fmt.Errorf("%w: tp %.5f on wrong side of %.5f for %s", ErrInvalidStops, tp, price, side)
	}
	if minDist > 0 {
		if (price-sl)*s < minDist {
			sl = price - s*minDist
		}
		if tp > 0 && (tp-price)*s < minDist {
			tp = price + s*minDist
		}
	}
	return sl, tp, nil
}
