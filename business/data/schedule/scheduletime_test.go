package schedule

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func madrid(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Fatalf("unable to load Europe/Madrid: %v", err)
	}
	return loc
}

func TestMakeScheduleTime(t *testing.T) {
	loc := madrid(t)
	tests := []struct {
		name            string
		anchor          time.Time
		scheduleSeconds int
		want            time.Time
	}{
		{
			name:            "plain morning",
			anchor:          time.Date(2025, 6, 2, 0, 0, 0, 0, loc),
			scheduleSeconds: 8 * 3600,
			want:            time.Date(2025, 6, 2, 8, 0, 0, 0, loc),
		},
		{
			name:            "past midnight",
			anchor:          time.Date(2025, 6, 2, 0, 0, 0, 0, loc),
			scheduleSeconds: 25*3600 + 30*60,
			want:            time.Date(2025, 6, 3, 1, 30, 0, 0, loc),
		},
		{
			name:            "spring forward day keeps local time",
			anchor:          time.Date(2025, 3, 30, 0, 0, 0, 0, loc),
			scheduleSeconds: 12 * 3600,
			want:            time.Date(2025, 3, 30, 12, 0, 0, 0, loc),
		},
		{
			name:            "fall back day keeps local time",
			anchor:          time.Date(2025, 10, 26, 0, 0, 0, 0, loc),
			scheduleSeconds: 12 * 3600,
			want:            time.Date(2025, 10, 26, 12, 0, 0, 0, loc),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MakeScheduleTime(tt.anchor, tt.scheduleSeconds)
			if got.Unix() != tt.want.Unix() {
				t.Errorf("MakeScheduleTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceDayAnchor(t *testing.T) {
	is := is.New(t)
	loc := madrid(t)
	anchor, err := ServiceDayAnchor("20250602", loc)
	is.NoErr(err)
	is.Equal(anchor, time.Date(2025, 6, 2, 0, 0, 0, 0, loc))

	_, err = ServiceDayAnchor("2025-06-02", loc)
	is.True(err != nil)
}

func TestNextServiceDate(t *testing.T) {
	is := is.New(t)
	loc := madrid(t)
	next, err := NextServiceDate("20251231", 1, loc)
	is.NoErr(err)
	is.Equal(next, "20260101")
}

func TestParseScheduleSeconds(t *testing.T) {
	tests := []struct {
		give    string
		want    int
		wantErr bool
	}{
		{give: "08:00:00", want: 28800},
		{give: "8:05:30", want: 29130},
		{give: "25:10:00", want: 90600},
		{give: "08:00", wantErr: true},
		{give: "08:61:00", wantErr: true},
		{give: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.give, func(t *testing.T) {
			got, err := parseScheduleSeconds(tt.give)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseScheduleSeconds(%q) expected error", tt.give)
				}
				return
			}
			if err != nil {
				t.Errorf("parseScheduleSeconds(%q) unexpected error: %v", tt.give, err)
				return
			}
			if got != tt.want {
				t.Errorf("parseScheduleSeconds(%q) = %d, want %d", tt.give, got, tt.want)
			}
		})
	}
}
