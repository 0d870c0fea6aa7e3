package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChunkCount(t *testing.T) {
	tests := []struct {
		duration time.Duration
		chunk    time.Duration
		want     int
	}{
		{2500 * time.Millisecond, time.Second, 3},
		{3 * time.Second, time.Second, 3},
		{0, time.Second, 0},
		{time.Second, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, chunkCount(tt.duration, tt.chunk), "%v/%v", tt.duration, tt.chunk)
	}
}
