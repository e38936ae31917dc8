// Package trade holds the domain types shared by the sizing, leveling and
// lifecycle packages: the inbound Signal and the fully priced Plan.
package trade

import "time"

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Opposite returns the closing direction for a position.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// Signal is the immutable output of an external detector. The engine consumes
// each signal at most once.
type Signal struct {
	Symbol         string    `json:"symbol"`
	Direction      Direction `json:"direction"`
	Confidence     float64   `json:"confidence"` // [0,1]
	Timeframe      string    `json:"timeframe"`
	ReferencePrice float64   `json:"reference_price"`
	ATR            float64   `json:"atr"` // volatility estimate in price units
	CreatedAt      time.Time `json:"created_at"`
}

// Plan is the result of sizing and leveling a signal. Entry, size and the
// protective levels are fixed once the plan is handed to the lifecycle engine.
type Plan struct {
	Symbol    string
	Direction Direction
	Entry     float64
	Size      float64 // base units
	Leverage  int
	StopLoss  float64
	TP1       float64
	TP2       float64
	MaxRisk   float64 // currency amount at risk if the stop is hit
}

// Notional returns the position value at entry, before leverage.
func (p Plan) Notional() float64 {
	return p.Size * p.Entry
}

// StopDistance returns the absolute distance between entry and stop.
func (p Plan) StopDistance() float64 {
	d := p.Entry - p.StopLoss
	if d < 0 {
		return -d
	}
	return d
}
