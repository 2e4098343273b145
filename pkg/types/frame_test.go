package types

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundingBoxNormalize(t *testing.T) {
	b := BoundingBox{X1: 50, Y1: 40, X2: 10, Y2: 5}.Normalize()
	assert.Equal(t, BoundingBox{X1: 10, Y1: 5, X2: 50, Y2: 40}, b)
	assert.False(t, b.Empty())
	assert.Equal(t, image.Rect(10, 5, 50, 40), b.Rect())
	assert.Equal(t, [4]float64{10, 5, 50, 40}, b.Array())
}

func TestBoundingBoxEmpty(t *testing.T) {
	assert.True(t, BoundingBox{X1: 10, Y1: 10, X2: 10, Y2: 20}.Empty())
	assert.True(t, BoundingBox{X1: 10, Y1: 10, X2: 20, Y2: 10}.Empty())
	assert.False(t, BoundingBox{X1: 10, Y1: 10, X2: 11, Y2: 11}.Empty())
}

func TestThreatTierString(t *testing.T) {
	assert.Equal(t, "HIGH", ThreatHigh.String())
	assert.Equal(t, "LOW", ThreatLow.String())
	assert.Equal(t, "UNKNOWN", ThreatTier(42).String())
	assert.True(t, ThreatUnknown < ThreatLow && ThreatLow < ThreatMedium && ThreatMedium < ThreatHigh)
}

func TestCategoryEmphasized(t *testing.T) {
	assert.True(t, Category{Marker: MarkerCircle}.Emphasized())
	assert.True(t, Category{Marker: MarkerSquare}.Emphasized())
	assert.False(t, Category{}.Emphasized())
}
