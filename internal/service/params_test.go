package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQueryTime(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-03-03T08:00:00Z", time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)},
		{"2025-03-03T08:00:00+02:00", time.Date(2025, 3, 3, 6, 0, 0, 0, time.UTC)},
		{"2025-03-03 08:30:00", time.Date(2025, 3, 3, 8, 30, 0, 0, loc)},
		{" 2025-03-03 ", time.Date(2025, 3, 3, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseQueryTime(tt.in, loc)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}

	_, err := ParseQueryTime("yesterday", loc)
	assert.ErrorIs(t, err, ErrInvalidTime)
}

func TestResolveRange(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	now := time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC) // 10:00 in New York

	tests := []struct {
		name      string
		from, to  string
		wantStart time.Time
		wantEnd   time.Time
		wantErr   error
	}{
		{
			name:      "defaults to today",
			wantStart: time.Date(2025, 3, 5, 0, 0, 0, 0, loc),
			wantEnd:   time.Date(2025, 3, 6, 0, 0, 0, 0, loc),
		},
		{
			name:      "date-only to covers the whole day",
			from:      "2025-03-01",
			to:        "2025-03-03",
			wantStart: time.Date(2025, 3, 1, 0, 0, 0, 0, loc),
			wantEnd:   time.Date(2025, 3, 4, 0, 0, 0, 0, loc),
		},
		{
			name:      "same day",
			from:      "2025-03-01",
			to:        "2025-03-01",
			wantStart: time.Date(2025, 3, 1, 0, 0, 0, 0, loc),
			wantEnd:   time.Date(2025, 3, 2, 0, 0, 0, 0, loc),
		},
		{
			name:      "explicit times are kept",
			from:      "2025-03-01 06:00:00",
			to:        "2025-03-01T18:00:00Z",
			wantStart: time.Date(2025, 3, 1, 6, 0, 0, 0, loc),
			wantEnd:   time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC),
		},
		{
			name:      "from in the future without to",
			from:      "2025-03-10",
			wantStart: time.Date(2025, 3, 10, 0, 0, 0, 0, loc),
			wantEnd:   time.Date(2025, 3, 11, 0, 0, 0, 0, loc),
		},
		{
			name:    "inverted",
			from:    "2025-03-04",
			to:      "2025-03-02",
			wantErr: ErrInvalidRange,
		},
		{
			name:    "garbage",
			from:    "soon",
			wantErr: ErrInvalidTime,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := ResolveRange(tt.from, tt.to, loc, now)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantStart.Equal(start), "start: want %s, got %s", tt.wantStart, start)
			assert.True(t, tt.wantEnd.Equal(end), "end: want %s, got %s", tt.wantEnd, end)
		})
	}
}

func TestIsDateOnly(t *testing.T) {
	assert.True(t, IsDateOnly("2025-03-03"))
	assert.False(t, IsDateOnly("2025-03-03T10:00:00Z"))
	assert.False(t, IsDateOnly("2025-03-03 10:00:00"))
}
