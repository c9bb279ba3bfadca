// Package decay models synonym confidence over time: exponential decay since
// the last confirmation, offset by a logarithmic reinforcement boost.
package decay

import (
	"math"
	"time"

	"github.com/ashita-ai/musubi/internal/model"
)

const (
	// DefaultLambda is the per-day decay rate.
	DefaultLambda = 0.001

	// BoostCap bounds the reinforcement boost.
	BoostCap = 0.15

	// boostSaturation is the support count at which the boost reaches its
	// cap; alpha follows from cap = alpha * ln(1 + saturation).
	boostSaturation = 20
)

var boostAlpha = BoostCap / math.Log(1+float64(boostSaturation))

// Model computes effective confidence for synonyms.
type Model struct {
	Lambda float64
}

// New creates a decay model. A negative lambda is clamped to zero.
func New(lambda float64) *Model {
	if lambda < 0 {
		lambda = 0
	}
	return &Model{Lambda: lambda}
}

// Effective returns clamp01(confidence * exp(-lambda*days) + boost(supportCount))
// where days is the non-negative age of the last confirmation.
func (m *Model) Effective(s *model.Synonym, now time.Time) float64 {
	days := now.Sub(s.LastConfirmedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	v := s.Confidence*math.Exp(-m.Lambda*days) + Boost(s.SupportCount)
	return clamp01(v)
}

// Boost is min(cap, alpha*ln(1+k)): monotone increasing in k with
// diminishing returns, saturating at BoostCap.
func Boost(supportCount int) float64 {
	if supportCount <= 0 {
		return 0
	}
	return math.Min(BoostCap, boostAlpha*math.Log(1+float64(supportCount)))
}

// Reinforce records a positive confirmation: the support count grows and the
// decay clock resets. The stored confidence is untouched; the boost carries
// the reinforcement.
func (m *Model) Reinforce(s *model.Synonym, now time.Time) {
	s.SupportCount++
	s.LastConfirmedAt = now
}

// NegativeReinforce lowers stored confidence by delta, floored at zero.
// SupportCount is never decreased.
func (m *Model) NegativeReinforce(s *model.Synonym, delta float64) {
	s.Confidence = math.Max(0, s.Confidence-delta)
}

// ShouldTriggerReview reports whether effective confidence has fallen below
// the synonym threshold.
func (m *Model) ShouldTriggerReview(s *model.Synonym, synonymThreshold float64, now time.Time) bool {
	return m.Effective(s, now) < synonymThreshold
}

// IsStale reports whether effective confidence has fallen below the review
// threshold.
func (m *Model) IsStale(s *model.Synonym, reviewThreshold float64, now time.Time) bool {
	return m.Effective(s, now) < reviewThreshold
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
