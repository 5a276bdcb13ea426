package exitcalc

import (
	"fmt"

	"github.com/quantive/signalbridge/internal/domain"
)

// Result is the calculator's output: a quantity, a human-readable
// explanation, and an optional soft-validation warning.
type Result struct {
	Quantity int64
	Reason   string
	Warning  *domain.Warning
}

// Calculate determines the trade quantity for a signal given the parsed exit
// directive, the signed current position, and the activation's configured
// quantity. It is stateless: scale-out stages apply to the position as it is
// at call time.
//
// Rounding is always ceiling so the final fractional contract is never
// stranded.
func Calculate(action domain.SignalAction, d Directive, currentPosition, configuredQuantity int64) Result {
	// Entries are always sized by configuration, never by current position.
	if d.Kind == KindEntry {
		return Result{
			Quantity: configuredQuantity,
			Reason:   fmt.Sprintf("entry signal, using configured quantity %d", configuredQuantity),
		}
	}

	// Buys without an entry label still size by configuration.
	if action == domain.ActionBuy {
		return Result{
			Quantity: configuredQuantity,
			Reason:   fmt.Sprintf("buy signal, using configured quantity %d", configuredQuantity),
		}
	}

	// Sell-type exits need something to exit.
	if currentPosition <= 0 {
		return Result{Quantity: 0, Reason: "no position to exit"}
	}

	switch d.Kind {
	case KindFinalExit:
		if d.Raw == "" {
			return Result{
				Quantity: currentPosition,
				Reason:   fmt.Sprintf("no exit type specified, closing entire position of %d", currentPosition),
			}
		}
		return Result{
			Quantity: currentPosition,
			Reason:   fmt.Sprintf("%s: closing all %d remaining", d.Raw, currentPosition),
		}

	case KindPercentExit:
		qty := ceilDiv(currentPosition*int64(d.Percent), 100)
		return Result{
			Quantity: qty,
			Reason:   fmt.Sprintf("%s: exiting %d%% of position %d = %d", d.Raw, d.Percent, currentPosition, qty),
		}

	case KindScaleOut:
		return scaleOut(d, currentPosition)

	default: // KindUnknown
		return Result{
			Quantity: currentPosition,
			Reason:   fmt.Sprintf("unrecognized exit type %q, closing entire position of %d", d.Raw, currentPosition),
			Warning: &domain.Warning{
				Code:    domain.WarnUnknownExitType,
				Message: fmt.Sprintf("exit type %q not recognized, defaulting to full exit", d.Raw),
			},
		}
	}
}

// scaleOut implements the staged exit pattern: stage 1 takes a third, stage 2
// half of the position as it now stands, stage 3 and beyond all of it.
func scaleOut(d Directive, currentPosition int64) Result {
	switch d.Stage {
	case 1:
		qty := ceilDiv(currentPosition, 3)
		return Result{
			Quantity: qty,
			Reason:   fmt.Sprintf("%s: scale-out 1/3 of position %d = %d", d.Raw, currentPosition, qty),
		}
	case 2:
		qty := ceilDiv(currentPosition, 2)
		return Result{
			Quantity: qty,
			Reason:   fmt.Sprintf("%s: scale-out 1/2 of position %d = %d", d.Raw, currentPosition, qty),
		}
	default:
		return Result{
			Quantity: currentPosition,
			Reason:   fmt.Sprintf("%s: final scale-out, closing all %d remaining", d.Raw, currentPosition),
		}
	}
}

// ceilDiv returns ceil(a/b) for positive operands.
func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
