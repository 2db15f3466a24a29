package fusion

import (
	"testing"

	"github.com/cercatrack/railfusion/business/realtime/tripupdates"
	"github.com/cercatrack/railfusion/business/realtime/vehicles"
	"github.com/matryer/is"
)

func etaFixtureInput(now int64) ETAInput {
	return ETAInput{
		StopIDs: []string{"S5", "S6", "S7", "S8", "S9"},
		SchedArr: map[string]int64{
			"S5": now + 300, "S6": now + 660, "S7": now + 1020, "S8": now + 1380, "S9": now + 2040,
		},
		SchedDep: map[string]int64{
			"S5": now + 360, "S6": now + 720, "S7": now + 1080, "S8": now + 1440, "S9": now + 2040,
		},
		Now: now,
	}
}

func findEntry(entries []ETAEntry, stopID string) *ETAEntry {
	for i := range entries {
		if entries[i].StopID == stopID {
			return &entries[i]
		}
	}
	return nil
}

func TestETAPropagatesConstantDelay(t *testing.T) {
	is := is.New(t)
	now := int64(1_700_000_000)
	in := etaFixtureInput(now)

	// trip update pins the pivot S5 at sched+180
	delay := int32(180)
	in.Update = &tripupdates.Item{
		TripID: "T1",
		StopUpdates: []tripupdates.StopTimeUpdate{
			{StopID: "S5", ArrivalEpoch: int64Ptr(now + 300 + 180), ArrivalDelay: &delay},
		},
	}
	in.Vehicle = &vehicles.Observation{StopID: "S5", Status: vehicles.InTransitTo, Timestamp: now}

	entries := ComputeETAStream(in)
	is.Equal(len(entries), 5)
	for _, stopID := range []string{"S5", "S6", "S7", "S8", "S9"} {
		entry := findEntry(entries, stopID)
		is.True(entry != nil)
		is.Equal(entry.Epoch, in.SchedArr[stopID]+180)
		is.Equal(entry.DelaySeconds, 180)
	}
}

func TestETAWithoutUpdateAnchorsOnSchedule(t *testing.T) {
	is := is.New(t)
	now := int64(1_700_000_000)
	in := etaFixtureInput(now)
	in.Vehicle = &vehicles.Observation{StopID: "S5", Status: vehicles.InTransitTo, Timestamp: now}

	entries := ComputeETAStream(in)
	is.Equal(len(entries), 5)
	// schedule is still ahead of the physical minimum, no delay appears
	is.Equal(entries[0].Epoch, now+300)
	is.Equal(entries[0].DelaySeconds, 0)
}

func TestETAEnforcesMinimumHeadway(t *testing.T) {
	is := is.New(t)
	now := int64(1_700_000_000)
	in := ETAInput{
		StopIDs:  []string{"A", "B"},
		SchedArr: map[string]int64{"A": now - 600, "B": now - 590},
		SchedDep: map[string]int64{"A": now - 600, "B": now - 590},
		Now:      now,
	}
	in.Vehicle = &vehicles.Observation{StopID: "A", Status: vehicles.InTransitTo, Timestamp: now}

	entries := ComputeETAStream(in)
	is.Equal(len(entries), 2)
	is.True(entries[0].Epoch >= now+minLeadSeconds)
	is.True(entries[1].Epoch >= entries[0].Epoch+minHeadwaySeconds)
}

func TestETACanceledTripYieldsNothing(t *testing.T) {
	is := is.New(t)
	now := int64(1_700_000_000)
	in := etaFixtureInput(now)
	in.Update = &tripupdates.Item{TripID: "T1", Relationship: tripupdates.TripCanceled}

	is.Equal(len(ComputeETAStream(in)), 0)
}

func TestETAStoppedAtTerminusYieldsNothing(t *testing.T) {
	is := is.New(t)
	now := int64(1_700_000_000)
	in := etaFixtureInput(now)
	in.Vehicle = &vehicles.Observation{StopID: "S9", Status: vehicles.StoppedAt, Timestamp: now}

	is.Equal(len(ComputeETAStream(in)), 0)
}

func TestETADownstreamOverrideResetsDelay(t *testing.T) {
	is := is.New(t)
	now := int64(1_700_000_000)
	in := etaFixtureInput(now)
	delay := int32(300)
	in.Update = &tripupdates.Item{
		TripID: "T1",
		StopUpdates: []tripupdates.StopTimeUpdate{
			{StopID: "S5", ArrivalEpoch: int64Ptr(now + 300 + 300), ArrivalDelay: &delay},
			// downstream the update says the train recovers at S7
			{StopID: "S7", ArrivalEpoch: int64Ptr(now + 1020 + 60)},
		},
	}
	in.Vehicle = &vehicles.Observation{StopID: "S5", Status: vehicles.InTransitTo, Timestamp: now}
	in.DownstreamTUOverride = true

	entries := ComputeETAStream(in)
	is.Equal(findEntry(entries, "S6").DelaySeconds, 300)
	is.Equal(findEntry(entries, "S7").DelaySeconds, 60)
	// the reset delay carries past the override
	is.Equal(findEntry(entries, "S8").DelaySeconds, 60)
	is.Equal(findEntry(entries, "S9").DelaySeconds, 60)
}

func TestMinutesHelpers(t *testing.T) {
	tests := []struct {
		giveSeconds int64
		want        int
	}{
		{-30, 0},
		{0, 0},
		{1, 1},
		{60, 1},
		{61, 2},
		{599, 10},
	}
	for _, tt := range tests {
		if got := MinutesUntil(tt.giveSeconds); got != tt.want {
			t.Errorf("MinutesUntil(%d) = %d, want %d", tt.giveSeconds, got, tt.want)
		}
	}

	delays := []struct {
		give int
		want int
	}{
		{0, 0}, {59, 0}, {60, 1}, {185, 3}, {-59, 0}, {-125, -2},
	}
	for _, tt := range delays {
		if got := DelayMinutes(tt.give); got != tt.want {
			t.Errorf("DelayMinutes(%d) = %d, want %d", tt.give, got, tt.want)
		}
	}
}
