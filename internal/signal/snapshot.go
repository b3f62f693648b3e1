package signal

import (
	"sort"
	"time"
)

type PricePoint struct {
	Current  float64 `json:"current_price"`
	Previous float64 `json:"previous_price"`
}

// ChangePct is the percent move from Previous to Current, or 0 when Previous
// is unusable.
func (p PricePoint) ChangePct() float64 {
	if p.Previous <= 0 {
		return 0
	}
	return (p.Current - p.Previous) / p.Previous * 100.0
}

// OracleSnapshot is the aggregated price view every vote source reads.
// DataQuality is the share of requested symbols that were fetched.
type OracleSnapshot struct {
	Prices           map[string]PricePoint `json:"prices"`
	DataQuality      float64               `json:"data_quality"`
	OraclesAvailable int                   `json:"oracles_available"`
	FetchedAt        time.Time             `json:"fetched_at"`
}

// Symbols returns the snapshot's symbols in a stable order.
func (s OracleSnapshot) Symbols() []string {
	out := make([]string, 0, len(s.Prices))
	for k := range s.Prices {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// changes lists ChangePct for every symbol in Symbols order.
func (s OracleSnapshot) changes() []float64 {
	syms := s.Symbols()
	out := make([]float64, 0, len(syms))
	for _, sym := range syms {
		out = append(out, s.Prices[sym].ChangePct())
	}
	return out
}
