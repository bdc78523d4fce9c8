// Package forecast projects a family's daily totals forward with a trailing
// moving average and a damped growth rate.
//
// The confidence band is a fixed symmetric percentage envelope around the
// point forecast. It is an approximation for display, not a statistically
// calibrated interval; substituting a true seasonal time-series model would
// change that.
package forecast

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/identity.report/internal/aggregate"
)

// ErrInsufficientData is returned only when there is no historical series at
// all. Short or all-zero histories degrade to a flat forecast instead; see
// Forecast.
var ErrInsufficientData = errors.New("no historical data for metric")

// Model defaults, matching the documented pipeline configuration.
const (
	DefaultWindow  = 7
	DefaultDamping = 0.5
	DefaultBandPct = 0.20
)

// Forecaster configures the projection.
type Forecaster struct {
	Window  int     // trailing moving-average window in days
	Damping float64 // fraction of the observed growth rate carried forward
	BandPct float64 // symmetric envelope, e.g. 0.20 for ±20%
}

// NewForecaster returns a Forecaster with the default parameters.
func NewForecaster() *Forecaster {
	return &Forecaster{Window: DefaultWindow, Damping: DefaultDamping, BandPct: DefaultBandPct}
}

// Point is one day of a ForecastSeries. Historical points carry the
// observed value with no bounds; forecast points carry the estimate and its
// envelope.
type Point struct {
	Date     time.Time `json:"date"`
	Value    float64   `json:"value"`
	Lower    float64   `json:"lower"`
	Upper    float64   `json:"upper"`
	Forecast bool      `json:"forecast"`
}

// Series is a historical prefix followed by a forecast suffix.
type Series struct {
	Historical []Point `json:"historical"`
	Forecast   []Point `json:"forecast"`
}

// Forecast projects the series horizon days past its last observation.
//
// Policy for thin inputs, applied deliberately rather than mixing both
// behaviours: an empty history is ErrInsufficientData (there is nothing to
// anchor even a flat line), while a history shorter than the window, or one
// with no usable growth signal, degrades to a flat forecast at the mean of
// whatever history exists. An all-zero history therefore yields a flat zero
// forecast with zero-width bands, never NaN.
func (f *Forecaster) Forecast(history []aggregate.DailyCount, horizon int) (*Series, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("%w", ErrInsufficientData)
	}
	if horizon < 0 {
		return nil, fmt.Errorf("horizon must be non-negative, got %d", horizon)
	}

	window := f.Window
	if window < 1 {
		window = DefaultWindow
	}

	s := &Series{Historical: make([]Point, len(history))}
	for i, d := range history {
		s.Historical[i] = Point{Date: d.Date, Value: float64(d.Count)}
	}

	level, growth := f.levelAndGrowth(history, window)

	last := history[len(history)-1].Date
	value := level
	for day := 1; day <= horizon; day++ {
		value *= 1 + growth*f.Damping
		if value < 0 {
			value = 0
		}
		s.Forecast = append(s.Forecast, Point{
			Date:     last.AddDate(0, 0, day),
			Value:    value,
			Lower:    value * (1 - f.BandPct),
			Upper:    value * (1 + f.BandPct),
			Forecast: true,
		})
	}
	return s, nil
}

// levelAndGrowth derives the projection baseline and daily growth rate.
// With a full window the level is the trailing window mean and the growth
// is the mean day-over-day fractional change across the window; with less
// history both degrade: level to the mean of what exists, growth to zero.
func (f *Forecaster) levelAndGrowth(history []aggregate.DailyCount, window int) (level, growth float64) {
	values := make([]float64, len(history))
	for i, d := range history {
		values[i] = float64(d.Count)
	}

	if len(values) < window {
		return stat.Mean(values, nil), 0
	}

	tail := values[len(values)-window:]
	level = stat.Mean(tail, nil)

	// Mean fractional change over the window's day-over-day steps. Steps
	// with a zero base contribute nothing, so a sparse series cannot
	// produce infinities.
	start := len(values) - window
	if start == 0 {
		start = 1
	}
	var sum float64
	var n int
	for i := start; i < len(values); i++ {
		prev := values[i-1]
		if prev == 0 {
			continue
		}
		sum += (values[i] - prev) / prev
		n++
	}
	if n > 0 {
		growth = sum / float64(n)
	}
	return level, growth
}
