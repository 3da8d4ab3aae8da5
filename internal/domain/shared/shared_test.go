package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentOf(t *testing.T) {
	tests := []struct {
		part, whole int
		want        Percent
	}{
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{1, 2, 50},
		{5, 0, 0}, // zero whole never panics
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PercentOf(tt.part, tt.whole))
	}
}

func TestPoints_Clamp(t *testing.T) {
	assert.Equal(t, SeasonScoreCap, Points(1600).Clamp())
	assert.Equal(t, Points(1500), Points(1500).Clamp())
	assert.Equal(t, Points(0), Points(-5).Clamp())
}

func TestNewPoints(t *testing.T) {
	_, err := NewPoints(-1)
	assert.ErrorIs(t, err, ErrNegativeValue)

	_, err = NewPoints(1501)
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	p, err := NewPoints(1500)
	assert.NoError(t, err)
	assert.Equal(t, SeasonScoreCap, p)
}

func TestNewPillar(t *testing.T) {
	p, err := NewPillar(" cfc ")
	assert.NoError(t, err)
	assert.Equal(t, PillarCFC, p)
	assert.False(t, p.IsStreak())
	assert.True(t, PillarSCD.IsStreak())

	_, err = NewPillar("XYZ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDomainError_Matching(t *testing.T) {
	err := WrapError("progression", "ResolveTask", ErrNoMoreSlots, "exhausted", nil)
	assert.True(t, errors.Is(err, ErrNoMoreSlots))
	assert.True(t, IsBenignNoOp(err))
	assert.False(t, IsNotFound(err))

	wrapped := WrapError("scoring", "ApplyScore", ErrSeasonFinalized, "frozen", nil)
	assert.True(t, IsFinalized(wrapped))
}

func TestStudentID_Validation(t *testing.T) {
	_, err := NewStudentID("not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidID)

	id, err := NewStudentID("7C2F9E9B-1D2F-4C3A-8B4E-222222222222")
	assert.NoError(t, err)
	assert.Equal(t, StudentID("7c2f9e9b-1d2f-4c3a-8b4e-222222222222"), id)
}
