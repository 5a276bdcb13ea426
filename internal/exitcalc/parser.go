// Package exitcalc turns exit-type tokens and live positions into trade
// quantities. Parsing and computation are separated: Parse produces a closed
// Directive once, Calculate matches exhaustively on it.
package exitcalc

import (
	"strconv"
	"strings"
)

// Kind enumerates the closed set of exit directives.
type Kind int

const (
	// KindEntry opens or adds to a position using the configured quantity.
	KindEntry Kind = iota
	// KindPercentExit closes a percentage (10-100) of the current position.
	KindPercentExit
	// KindScaleOut is a staged exit: stage 1 closes a third, stage 2 half of
	// what remains, stage 3 and beyond everything.
	KindScaleOut
	// KindFinalExit closes the entire remaining position.
	KindFinalExit
	// KindUnknown is an unrecognized token; handled fail-safe as a full exit.
	KindUnknown
)

// Directive is the parsed form of an exit-type token.
type Directive struct {
	Kind    Kind
	Percent int    // set for KindPercentExit, 1-100
	Stage   int    // set for KindScaleOut, 1-9
	Raw     string // the original token, empty when none was supplied
}

const exitPrefix = "EXIT_"

// Parse converts a raw exit-type token into a Directive. An empty token maps
// to KindFinalExit with an empty Raw: the default when no modifier is
// supplied is to close everything.
func Parse(token string) Directive {
	raw := strings.ToUpper(strings.TrimSpace(token))

	switch raw {
	case "":
		return Directive{Kind: KindFinalExit, Raw: ""}
	case "ENTRY":
		return Directive{Kind: KindEntry, Raw: raw}
	case "EXIT_HALF":
		return Directive{Kind: KindPercentExit, Percent: 50, Raw: raw}
	case "EXIT_FINAL", "EXIT_ALL", "EXIT_100":
		return Directive{Kind: KindFinalExit, Raw: raw}
	}

	if n, ok := exitNumber(raw); ok {
		switch {
		case n >= 1 && n <= 9:
			// Single digit: scale-out stage, not a percentage.
			return Directive{Kind: KindScaleOut, Stage: n, Raw: raw}
		case n >= 10 && n <= 100:
			return Directive{Kind: KindPercentExit, Percent: n, Raw: raw}
		default:
			// Out-of-range percentage: fail safe toward a full exit.
			return Directive{Kind: KindUnknown, Raw: raw}
		}
	}

	return Directive{Kind: KindUnknown, Raw: raw}
}

// exitNumber extracts N from "EXIT_<N>" tokens.
func exitNumber(raw string) (int, bool) {
	if !strings.HasPrefix(raw, exitPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(raw[len(exitPrefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}
