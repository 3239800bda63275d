package discovery

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Scorer ranks snapshot rows per network with a weighted heuristic that
// rewards low float, high relative trading activity and valuation density.
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer. Zero weights fall back to the defaults.
func NewScorer(weights Weights) *Scorer {
	if weights.Scarcity.IsZero() && weights.Volume.IsZero() && weights.Valuation.IsZero() {
		weights = DefaultWeights()
	}
	return &Scorer{weights: weights}
}

// Select groups rows by network, filters them and returns the top-scoring
// candidate per network. Networks with no qualifying rows are omitted; an
// empty result is a valid outcome, not an error. For a fixed snapshot the
// result is deterministic: ties keep the earliest row.
func (s *Scorer) Select(snapshot Snapshot, supported []string, filter Filter) map[string]Candidate {
	groups := make(map[string][]Row)
	allowed := make(map[string]bool, len(supported))
	for _, n := range supported {
		allowed[n] = true
	}
	for _, r := range snapshot.Rows {
		if !allowed[r.Network] || !filter.Keep(r) {
			continue
		}
		groups[r.Network] = append(groups[r.Network], r)
	}

	picks := make(map[string]Candidate, len(groups))
	for network, rows := range groups {
		maxVol := decimal.Zero
		for _, r := range rows {
			if r.Volume7d.GreaterThan(maxVol) {
				maxVol = r.Volume7d
			}
		}

		// Seed with the first row so the pick is a real candidate even when
		// every score is negative, as with inflationary floats above total.
		best := Candidate{Row: rows[0], Score: s.score(rows[0], maxVol)}
		for _, r := range rows[1:] {
			score := s.score(r, maxVol)
			if score.GreaterThan(best.Score) {
				best = Candidate{Row: r, Score: score}
			}
		}
		picks[network] = best

		log.Debug().
			Str("network", network).
			Str("symbol", best.Row.Symbol).
			Str("score", best.Score.String()).
			Int("candidates", len(rows)).
			Msg("discovery: network pick")
	}
	return picks
}

// score computes the weighted sum. Terms whose denominator is zero
// contribute nothing.
func (s *Scorer) score(r Row, maxVol decimal.Decimal) decimal.Decimal {
	score := decimal.Zero

	if r.Total.IsPositive() {
		scarcity := decimal.NewFromInt(1).Sub(r.Circulating.Div(r.Total))
		score = score.Add(s.weights.Scarcity.Mul(scarcity))
	}
	if maxVol.IsPositive() {
		score = score.Add(s.weights.Volume.Mul(r.Volume7d.Div(maxVol)))
	}
	if r.Circulating.IsPositive() {
		score = score.Add(s.weights.Valuation.Mul(r.MarketCap.Div(r.Circulating)))
	}
	return score
}
