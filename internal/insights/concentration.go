package insights

import (
	"math"
	"sort"
)

// Concentration bands over the Herfindahl index of absolute delta shares.
const (
	BandNone             = "none"
	BandUnconcentrated   = "unconcentrated"
	BandModerate         = "moderately_concentrated"
	BandHighConcentrated = "highly_concentrated"
)

// DefaultTopN is used when the requested Top-N is out of range.
const DefaultTopN = 5

// Share is one contributor's part of the total movement.
type Share struct {
	Name  string  `json:"name"`
	Delta float64 `json:"delta"`
	Share float64 `json:"share"`
}

// Concentration describes how a scenario's movement spreads over its
// contributors. Shares are taken over absolute deltas, so offsetting moves
// both count.
type Concentration struct {
	TopN       int     `json:"top_n"`
	Groups     []Share `json:"groups"`
	OtherShare float64 `json:"other_share"`
	AbsDelta   float64 `json:"abs_delta"`
	HHI        float64 `json:"hhi"`
	Band       string  `json:"band"`
}

// Concentrate ranks contributions by absolute delta and computes the Top-N
// share and HHI. Zero contributions are skipped; when nothing moved the band
// is BandNone.
func Concentrate(contrib map[string]float64, topN int) Concentration {
	out := Concentration{TopN: topN, Groups: []Share{}}
	if out.TopN <= 0 || out.TopN > 50 {
		out.TopN = DefaultTopN
	}

	type kv struct {
		k string
		v float64
	}
	arr := make([]kv, 0, len(contrib))
	var total float64
	for k, v := range contrib {
		if v == 0 || math.IsNaN(v) {
			continue
		}
		arr = append(arr, kv{k: k, v: v})
		total += math.Abs(v)
	}
	out.AbsDelta = total
	if total == 0 {
		out.Band = BandNone
		return out
	}
	sort.Slice(arr, func(i, j int) bool {
		if a, b := math.Abs(arr[i].v), math.Abs(arr[j].v); a != b {
			return a > b
		}
		return arr[i].k < arr[j].k
	})

	keep := min(out.TopN, len(arr))
	var topShare float64
	for _, g := range arr[:keep] {
		sh := math.Abs(g.v) / total
		out.Groups = append(out.Groups, Share{Name: g.k, Delta: g.v, Share: round3(sh)})
		topShare += sh
	}
	out.OtherShare = round3(math.Max(0, 1-topShare))

	// HHI: sum of squared shares over all contributors
	var hhi float64
	for _, g := range arr {
		sh := math.Abs(g.v) / total
		hhi += sh * sh
	}
	out.HHI = round3(hhi)
	switch {
	case hhi < 0.15:
		out.Band = BandUnconcentrated
	case hhi < 0.25:
		out.Band = BandModerate
	default:
		out.Band = BandHighConcentrated
	}
	return out
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
