package profile

import (
	"math"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

// BuildLadder flattens p into display rows sorted by price descending. Each
// row is tagged with the first zone of analysis whose band contains its
// price. CurrentIndex is the row closest to currentPrice (the first one on
// ties), or -1 for an empty profile. MaxSideVolume is the largest bid or ask
// of any row, or 1 when every row is empty, so renderers can divide by it.
func BuildLadder(p Profile, analysis domain.ProfileAnalysis, currentPrice float64) domain.Ladder {
	levels := p.Levels()
	ladder := domain.Ladder{
		Rows:          make([]domain.LadderRow, len(levels)),
		CurrentIndex:  -1,
		MaxSideVolume: 0,
	}

	minDiff := math.Inf(1)
	for i, l := range levels {
		row := domain.LadderRow{VolumeLevel: l}
		for _, z := range analysis.EdgeZones {
			if z.Contains(l.Price) {
				kind := z.Kind
				row.Zone = &kind
				break
			}
		}
		ladder.Rows[i] = row

		if side := math.Max(l.Bid, l.Ask); side > ladder.MaxSideVolume {
			ladder.MaxSideVolume = side
		}
		if diff := math.Abs(l.Price - currentPrice); diff < minDiff {
			minDiff = diff
			ladder.CurrentIndex = i
		}
	}

	if ladder.MaxSideVolume == 0 {
		ladder.MaxSideVolume = 1
	}
	return ladder
}
