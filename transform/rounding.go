package transform

import (
	"fmt"
	"strings"
	"time"

	"timebill/config"

	"github.com/shopspring/decimal"
)

type RoundingMode string

const (
	RoundNearest RoundingMode = "nearest"
	RoundUp      RoundingMode = "up"
	RoundDown    RoundingMode = "down"
)

const DefaultIncrement = 15 * time.Minute

// Rounding turns a raw duration into billable hours. Any positive duration
// bills at least one increment; ties round up in nearest mode.
type Rounding struct {
	Increment time.Duration
	Mode      RoundingMode
}

func NewRounding(cfg config.RoundingConfig) (Rounding, error) {
	mode := RoundingMode(strings.ToLower(strings.TrimSpace(cfg.Mode)))
	switch mode {
	case "":
		mode = RoundNearest
	case RoundNearest, RoundUp, RoundDown:
	default:
		return Rounding{}, fmt.Errorf("unsupported rounding mode %q", cfg.Mode)
	}
	increment := cfg.Increment
	if increment <= 0 {
		increment = DefaultIncrement
	}
	return Rounding{Increment: increment, Mode: mode}, nil
}

// Round returns the rounded duration. d must be positive.
func (r Rounding) Round(d time.Duration) time.Duration {
	increment := r.Increment
	if increment <= 0 {
		increment = DefaultIncrement
	}

	units := d / increment
	remainder := d % increment
	switch r.Mode {
	case RoundUp:
		if remainder > 0 {
			units++
		}
	case RoundDown:
	default:
		if remainder*2 >= increment {
			units++
		}
	}
	if units < 1 {
		units = 1
	}
	return units * increment
}

// Hours converts a duration to exact decimal hours.
func Hours(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(d)).Div(decimal.NewFromInt(int64(time.Hour)))
}
