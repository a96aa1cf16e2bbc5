package ratelimit

import (
	"testing"
	"time"
)

func TestState_Active(t *testing.T) {
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{
			name:     "zero state",
			state:    State{},
			expected: false,
		},
		{
			name:     "window open",
			state:    State{Until: now.Add(30 * time.Second)},
			expected: true,
		},
		{
			name:     "window closed",
			state:    State{Until: now.Add(-time.Second)},
			expected: false,
		},
		{
			name:     "window ends exactly now",
			state:    State{Until: now},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Active(now); got != tt.expected {
				t.Errorf("Active() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_Remaining(t *testing.T) {
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)

	open := State{Until: now.Add(42 * time.Second)}
	if got := open.Remaining(now); got != 42*time.Second {
		t.Errorf("Remaining() = %v, want 42s", got)
	}

	closed := State{Until: now.Add(-time.Minute)}
	if got := closed.Remaining(now); got != 0 {
		t.Errorf("Remaining() on closed window = %v, want 0", got)
	}
}

func TestState_IsStale(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		state    State
		maxAge   time.Duration
		expected bool
	}{
		{
			name:     "fresh state",
			state:    State{LastUpdate: now.Add(-10 * time.Second)},
			maxAge:   time.Minute,
			expected: false,
		},
		{
			name:     "stale state",
			state:    State{LastUpdate: now.Add(-2 * time.Minute)},
			maxAge:   time.Minute,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsStale(now, tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}
