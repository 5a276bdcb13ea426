package exitcalc

import (
	"fmt"

	"github.com/quantive/signalbridge/internal/domain"
)

// ValidateExitQuantity clamps a computed quantity against the live position
// and the configured position cap. Non-positive quantities are rejected
// outright; clamps are reported as warnings, not errors.
//
// For sells the quantity is capped at the current position so an exit can
// never overshoot into a short. For buys the resulting position is capped at
// maxPositionSize when one is configured (zero means uncapped).
func ValidateExitQuantity(action domain.SignalAction, quantity, currentPosition, maxPositionSize int64) (int64, *domain.Warning, error) {
	if quantity <= 0 {
		return 0, nil, fmt.Errorf("exitcalc: quantity %d: %w", quantity, domain.ErrInvalidQuantity)
	}

	switch action {
	case domain.ActionSell:
		if currentPosition > 0 && quantity > currentPosition {
			return currentPosition, &domain.Warning{
				Code:    domain.WarnOversizeExit,
				Message: fmt.Sprintf("exit quantity %d exceeds position %d, clamped", quantity, currentPosition),
			}, nil
		}
		return quantity, nil, nil

	case domain.ActionBuy:
		if maxPositionSize > 0 && currentPosition+quantity > maxPositionSize {
			clamped := maxPositionSize - currentPosition
			if clamped <= 0 {
				return 0, nil, fmt.Errorf("exitcalc: position %d already at cap %d: %w",
					currentPosition, maxPositionSize, domain.ErrInvalidQuantity)
			}
			return clamped, &domain.Warning{
				Code:    domain.WarnOversizeExit,
				Message: fmt.Sprintf("buy of %d would exceed max position %d, clamped to %d", quantity, maxPositionSize, clamped),
			}, nil
		}
		return quantity, nil, nil

	default:
		return 0, nil, fmt.Errorf("exitcalc: action %q: %w", action, domain.ErrInvalidSignal)
	}
}
