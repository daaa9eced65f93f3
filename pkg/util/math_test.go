package util

import (
	"math"
	"testing"
)

func TestSafeAdd(t *testing.T) {
	tests := []struct {
		a, b uint64
		want uint64
		ok   bool
	}{
		{3, 2, 5, true},
		{math.MaxUint64 - 1, 1, math.MaxUint64, true},
		{math.MaxUint64, 1, 0, false},
	}
	for _, tt := range tests {
		got, ok := SafeAdd(tt.a, tt.b)
		if got != tt.want || ok != tt.ok {
			t.Errorf("SafeAdd(%d, %d) = %d, %v; want %d, %v", tt.a, tt.b, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSafeMul(t *testing.T) {
	tests := []struct {
		a, b uint64
		want uint64
		ok   bool
	}{
		{500_000, 3, 1_500_000, true},
		{0, math.MaxUint64, 0, true},
		{1 << 32, 1 << 32, 0, false},
		{math.MaxUint64, 2, 0, false},
	}
	for _, tt := range tests {
		got, ok := SafeMul(tt.a, tt.b)
		if got != tt.want || ok != tt.ok {
			t.Errorf("SafeMul(%d, %d) = %d, %v; want %d, %v", tt.a, tt.b, got, ok, tt.want, tt.ok)
		}
	}
}
