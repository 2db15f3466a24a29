package fusion

import (
	"testing"

	"github.com/matryer/is"
)

func passRows() []StopRow {
	return []StopRow{
		{StopID: "S1", Seq: 1, SchedArrEpoch: 1000, SchedDepEpoch: 1000, ETAArrEpoch: 1000, ETADepEpoch: 1000},
		{StopID: "S2", Seq: 2, SchedArrEpoch: 1600, SchedDepEpoch: 1660, ETAArrEpoch: 1700, ETADepEpoch: 1760},
		{StopID: "S3", Seq: 3, SchedArrEpoch: 2500, SchedDepEpoch: 2560, ETAArrEpoch: 2600, ETADepEpoch: 2660},
	}
}

func TestRecordFillsPassRecords(t *testing.T) {
	is := is.New(t)
	r := NewPassRecorder(testLogger())

	r.Record("20250602:T1", passRows(), 2, 1800, map[int]int64{2: 1705}, nil)

	records := r.Records("20250602:T1")
	is.Equal(len(records), 2)
	is.Equal(records[0].StopSequence, 1)
	is.Equal(records[0].ArrivalEpoch, int64(1000))
	is.Equal(records[1].StopSequence, 2)
	is.Equal(records[1].ArrivalEpoch, int64(1705)) // forced arrival wins
	is.True(records[1].ArrivalDelayS != nil)
	is.Equal(*records[1].ArrivalDelayS, 105)
	is.Equal(r.LastSeq("20250602:T1"), 2)
}

func TestLastSeqIsMonotone(t *testing.T) {
	is := is.New(t)
	r := NewPassRecorder(testLogger())

	r.Record("svc", passRows(), 3, 2700, nil, nil)
	is.Equal(r.LastSeq("svc"), 3)

	// a glitched view reporting an earlier position must not move it back
	r.Record("svc", passRows(), 1, 2710, nil, nil)
	is.Equal(r.LastSeq("svc"), 3)

	is.Equal(r.LastSeq("unknown"), -1)
}

func TestLinkTrainBimap(t *testing.T) {
	is := is.New(t)
	r := NewPassRecorder(testLogger())

	r.LinkTrain("svc-a", "v1")
	is.Equal(r.ServiceForTrain("v1"), "svc-a")

	// relinking the service to a new vehicle releases the old one
	r.LinkTrain("svc-a", "v2")
	is.Equal(r.ServiceForTrain("v2"), "svc-a")
	is.Equal(r.ServiceForTrain("v1"), "")
}

func TestSweepEvictsStaleServices(t *testing.T) {
	is := is.New(t)
	r := NewPassRecorder(testLogger())

	r.Record("old", passRows(), 2, 1000, nil, nil)
	r.LinkTrain("old", "v1")
	r.Record("fresh", passRows(), 2, 80000, nil, nil)

	r.Sweep(1000 + passRecordTTLSeconds + 1)

	is.Equal(r.LastSeq("old"), -1)
	is.Equal(len(r.Records("old")), 0)
	is.Equal(r.ServiceForTrain("v1"), "")
	is.Equal(r.LastSeq("fresh"), 2)
}
