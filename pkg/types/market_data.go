package types

import "time"

type OHLCV struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}

// PriceTick is one mark-price update for a symbol. High and Low carry the
// intra-tick extremes when the feed provides them; a feed that only knows the
// last trade sets both equal to Last.
type PriceTick struct {
	Symbol    string
	Last      float64
	High      float64
	Low       float64
	Timestamp time.Time
}

// NewPriceTick builds a tick from a single last price.
func NewPriceTick(symbol string, last float64, at time.Time) PriceTick {
	return PriceTick{Symbol: symbol, Last: last, High: last, Low: last, Timestamp: at}
}
