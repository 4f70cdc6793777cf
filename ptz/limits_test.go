package ptz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampCoversFullRange(t *testing.T) {
	l := DefaultLimits()

	cases := []struct {
		in, pan, tilt int
	}{
		{-1000, 0, 15},
		{-1, 0, 15},
		{0, 0, 15},
		{90, 90, 90},
		{165, 165, 165},
		{270, 270, 165},
		{271, 270, 165},
		{100000, 270, 165},
	}
	for _, c := range cases {
		assert.Equal(t, c.pan, l.ClampPan(c.in), "pan %d", c.in)
		assert.Equal(t, c.tilt, l.ClampTilt(c.in), "tilt %d", c.in)
	}
}

func TestContains(t *testing.T) {
	l := Limits{PanMin: 10, PanMax: 20, TiltMin: 30, TiltMax: 40}

	assert.True(t, l.ContainsPan(10))
	assert.True(t, l.ContainsPan(20))
	assert.False(t, l.ContainsPan(21))
	assert.True(t, l.ContainsTilt(35))
	assert.False(t, l.ContainsTilt(29))
}
