// Package platforms learns habitual platform assignments per
// (nucleus, route, stop) from live observations and predicts the likely
// platform with a time-decayed weighting.
package platforms

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

const (
	// maxEpochsPerPlatform caps how many observation timestamps are
	// retained per platform.
	maxEpochsPerPlatform = 120
	// observeThrottleSeconds drops observations arriving within this
	// window of the previous one for the same platform.
	observeThrottleSeconds = 25
	// HalfLifeDays controls the exponential decay of observation weight.
	HalfLifeDays = 30.0

	publishableMinWeight  = 8.0
	publishableMaxAgeDays = 180.0

	ambiguityGap           = 0.15
	ambiguityMaxConfidence = 0.6
)

// Prediction is the habitual platform estimate for one (nucleus, route,
// stop) key.
type Prediction struct {
	Primary     string
	Secondary   string
	Confidence  float64
	NEffective  float64
	Frequencies map[string]float64
	LastSeen    int64
	Publishable bool
}

// Ambiguous reports whether the primary and secondary platforms are too
// close to publish a single value.
func (p *Prediction) Ambiguous() bool {
	if p.Secondary == "" {
		return false
	}
	gap := p.Frequencies[p.Primary] - p.Frequencies[p.Secondary]
	return gap <= ambiguityGap && p.Confidence < ambiguityMaxConfidence
}

// AltLabel returns the two-way label shown when the prediction is
// ambiguous, e.g. "1 ó 2".
func (p *Prediction) AltLabel() string {
	return fmt.Sprintf("%s ó %s", p.Primary, p.Secondary)
}

var (
	platformPrefixPattern = regexp.MustCompile(`(?i)^\s*(v[ií]a|platf(?:orm)?\.?|and[eé]n)\s*`)
	platformCodePattern   = regexp.MustCompile(`^(\d{1,3})\s*([A-Za-z]{1,3})?`)
)

// NormalizePlatform reduces a raw platform string to its canonical code:
// operator prefixes stripped, up to 3 digits plus an optional 3-letter
// suffix, uppercased. Empty when no code is recognizable.
func NormalizePlatform(raw string) string {
	cleaned := platformPrefixPattern.ReplaceAllString(strings.TrimSpace(raw), "")
	match := platformCodePattern.FindStringSubmatch(cleaned)
	if match == nil {
		return ""
	}
	return strings.ToUpper(match[1] + match[2])
}

// habitKey builds the store key; route may be "*" for the fallback tiers.
func habitKey(nucleus, routeID, stopID string) string {
	return nucleus + "|" + routeID + "|" + stopID
}

// predict computes the weighted platform distribution for one key's
// observation map.
func predict(platforms map[string][]int64, now int64) *Prediction {
	weights := make(map[string]float64, len(platforms))
	total := 0.0
	lastSeen := int64(0)
	for platform, epochs := range platforms {
		for _, epoch := range epochs {
			ageDays := float64(now-epoch) / 86400.0
			if ageDays < 0 {
				ageDays = 0
			}
			weights[platform] += math.Exp2(-ageDays / HalfLifeDays)
			if epoch > lastSeen {
				lastSeen = epoch
			}
		}
	}
	for _, weight := range weights {
		total += weight
	}
	if total == 0 {
		return nil
	}

	frequencies := make(map[string]float64, len(weights))
	for platform, weight := range weights {
		frequencies[platform] = weight / total
	}

	ordered := make([]string, 0, len(weights))
	for platform := range weights {
		ordered = append(ordered, platform)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if weights[ordered[i]] != weights[ordered[j]] {
			return weights[ordered[i]] > weights[ordered[j]]
		}
		return ordered[i] < ordered[j]
	})

	prediction := &Prediction{
		Primary:     ordered[0],
		Confidence:  frequencies[ordered[0]],
		NEffective:  total,
		Frequencies: frequencies,
		LastSeen:    lastSeen,
	}
	if len(ordered) > 1 {
		prediction.Secondary = ordered[1]
	}
	ageDays := float64(now-lastSeen) / 86400.0
	prediction.Publishable = total >= publishableMinWeight && ageDays <= publishableMaxAgeDays
	return prediction
}
