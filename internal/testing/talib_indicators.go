package testing

import (
	"context"

	"github.com/markcheno/go-talib"

	"github.com/aristath/sentinel-core/internal/external"
)

// TalibIndicators is a reference external.TechnicalIndicators fixture that
// computes RSI/MACD from a fixed series, for tests that want to drive
// TechnicalAgent's classification with real values instead of a
// hand-rolled stub. No test in this repository uses it. Production wiring
// never computes indicator math itself (internal/external/noop.go's
// NoopTechnicalIndicators is what di wires by default).
type TalibIndicators struct {
	// Closes is the closing-price series Compute derives RSI/MACD from,
	// most recent price last.
	Closes []float64
}

// NewTalibIndicators builds a fixture over a fixed closing-price series.
func NewTalibIndicators(closes []float64) *TalibIndicators {
	return &TalibIndicators{Closes: closes}
}

// Compute ignores instrument/timeframe: the fixture always answers from
// its configured series, which is all a deterministic test needs.
func (t *TalibIndicators) Compute(ctx context.Context, instrument, timeframe string) (map[string]float64, error) {
	out := map[string]float64{}
	if len(t.Closes) < 15 {
		return out, nil
	}

	rsi := talib.Rsi(t.Closes, 14)
	if v := lastNonNaN(rsi); v != nil {
		out["rsi"] = *v
	}

	_, _, macdHist := talib.Macd(t.Closes, 12, 26, 9)
	if v := lastNonNaN(macdHist); v != nil {
		out["macd_hist"] = *v
	}

	return out, nil
}

func lastNonNaN(series []float64) *float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i] == series[i] { // NaN != NaN
			v := series[i]
			return &v
		}
	}
	return nil
}

var _ external.TechnicalIndicators = (*TalibIndicators)(nil)
