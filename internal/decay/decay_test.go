package decay

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/musubi/internal/model"
)

func syn(conf float64, support int, lastConfirmed time.Time) *model.Synonym {
	return &model.Synonym{
		Confidence:      conf,
		SupportCount:    support,
		LastConfirmedAt: lastConfirmed,
	}
}

func TestEffective_ThousandDayDecay(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	m := New(0.001)

	s := syn(0.85, 0, now.AddDate(0, 0, -1000))
	got := m.Effective(s, now)

	// 0.85 * exp(-0.001*1000) = 0.85 * exp(-1) ≈ 0.3127
	assert.InDelta(t, 0.85*math.Exp(-1), got, 1e-9)
	assert.True(t, m.ShouldTriggerReview(s, 0.80, now))
	assert.True(t, m.IsStale(s, 0.60, now))
}

func TestEffective_FreshSynonymKeepsConfidence(t *testing.T) {
	now := time.Now().UTC()
	m := New(DefaultLambda)

	s := syn(0.9, 0, now)
	assert.InDelta(t, 0.9, m.Effective(s, now), 1e-9)
}

func TestEffective_FutureConfirmationClampsAgeToZero(t *testing.T) {
	now := time.Now().UTC()
	m := New(DefaultLambda)

	s := syn(0.7, 0, now.Add(48*time.Hour))
	assert.InDelta(t, 0.7, m.Effective(s, now), 1e-9)
}

func TestEffective_MonotoneNonIncreasingInAge(t *testing.T) {
	now := time.Now().UTC()
	m := New(DefaultLambda)

	prev := math.Inf(1)
	for _, days := range []int{0, 1, 10, 100, 500, 1000, 5000} {
		s := syn(0.85, 3, now.AddDate(0, 0, -days))
		eff := m.Effective(s, now)
		assert.LessOrEqual(t, eff, prev, "effective must not grow with age (days=%d)", days)
		prev = eff
	}
}

func TestEffective_ClampedToUnitInterval(t *testing.T) {
	now := time.Now().UTC()
	m := New(DefaultLambda)

	s := syn(1.0, 1000, now)
	assert.Equal(t, 1.0, m.Effective(s, now))

	s = syn(0, 0, now.AddDate(-10, 0, 0))
	assert.Equal(t, 0.0, m.Effective(s, now))
}

func TestBoost(t *testing.T) {
	assert.Equal(t, 0.0, Boost(0))
	assert.Equal(t, 0.0, Boost(-5))

	// Monotone increasing with diminishing returns.
	prev := 0.0
	prevGain := math.Inf(1)
	for k := 1; k <= 30; k++ {
		b := Boost(k)
		assert.Greater(t, b, prev-1e-12)
		gain := b - prev
		assert.LessOrEqual(t, gain, prevGain+1e-12)
		prev, prevGain = b, gain
	}

	// Saturates exactly at the calibration point.
	assert.InDelta(t, BoostCap, Boost(20), 1e-9)
	assert.Equal(t, BoostCap, Boost(1000))
}

func TestReinforce(t *testing.T) {
	now := time.Now().UTC()
	m := New(DefaultLambda)

	s := syn(0.6, 2, now.AddDate(0, 0, -30))
	m.Reinforce(s, now)

	assert.Equal(t, 3, s.SupportCount)
	assert.Equal(t, now, s.LastConfirmedAt)
	assert.Equal(t, 0.6, s.Confidence)
}

func TestNegativeReinforce(t *testing.T) {
	m := New(DefaultLambda)

	s := syn(0.08, 4, time.Now())
	m.NegativeReinforce(s, 0.05)
	assert.InDelta(t, 0.03, s.Confidence, 1e-9)
	assert.Equal(t, 4, s.SupportCount, "negative reinforcement never touches the count")

	m.NegativeReinforce(s, 0.05)
	assert.Equal(t, 0.0, s.Confidence, "confidence floors at zero")
}

func TestNew_ClampsNegativeLambda(t *testing.T) {
	m := New(-1)
	assert.Equal(t, 0.0, m.Lambda)
}
