package shapes

import (
	"math"
	"testing"

	"github.com/matryer/is"
)

func float64Ptr(v float64) *float64 { return &v }

func TestBuildPolylineAccumulatesDistance(t *testing.T) {
	is := is.New(t)
	// points given out of order, no shape_dist_traveled
	raw := []RawPoint{
		{Lat: 40.0, Lon: -3.0, Sequence: 2},
		{Lat: 40.0, Lon: -3.01, Sequence: 1},
		{Lat: 40.0, Lon: -2.99, Sequence: 3},
	}
	polyline := buildPolyline(raw)
	is.Equal(len(polyline), 3)
	is.Equal(polyline[0].CumM, 0.0)
	is.True(polyline[1].CumM > 0)
	is.True(polyline[2].CumM > polyline[1].CumM)
	// one degree of longitude at 40N is roughly 85km; 0.01 deg ~ 850m
	is.True(math.Abs(polyline[1].CumM-850) < 30)
}

func TestBuildPolylineUsesNativeDistances(t *testing.T) {
	is := is.New(t)
	raw := []RawPoint{
		{Lat: 40.0, Lon: -3.0, Sequence: 1, DistTraveled: float64Ptr(0)},
		{Lat: 40.1, Lon: -3.0, Sequence: 2, DistTraveled: float64Ptr(1000)},
	}
	polyline := buildPolyline(raw)
	is.Equal(polyline[1].CumM, 1000.0)
}

func TestMostFrequentShape(t *testing.T) {
	tests := []struct {
		name string
		give []string
		want string
	}{
		{"plain majority", []string{"b", "a", "b"}, "b"},
		{"tie broken lexicographically", []string{"b", "a"}, "a"},
		{"empty ids skipped", []string{"", "", "z"}, "z"},
		{"no shapes", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mostFrequentShape(tt.give); got != tt.want {
				t.Errorf("mostFrequentShape() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProject(t *testing.T) {
	is := is.New(t)
	// straight west-east line at 40N, about 2.5km long
	polyline := buildPolyline([]RawPoint{
		{Lat: 40.0, Lon: -3.03, Sequence: 1},
		{Lat: 40.0, Lon: -3.02, Sequence: 2},
		{Lat: 40.0, Lon: -3.01, Sequence: 3},
		{Lat: 40.0, Lon: -3.00, Sequence: 4},
	})

	// a point slightly north of the middle of the second segment
	cum, ok := polyline.Project(40.001, -3.015)
	is.True(ok)
	mid := (polyline[1].CumM + polyline[2].CumM) / 2
	is.True(math.Abs(cum-mid) < 50)

	// before the start projects to the first vertex
	cum, ok = polyline.Project(40.0, -3.05)
	is.True(ok)
	is.Equal(cum, 0.0)

	// beyond the end projects to the last vertex
	cum, ok = polyline.Project(40.0, -2.95)
	is.True(ok)
	is.Equal(cum, polyline[len(polyline)-1].CumM)
}

func TestProjectDegenerate(t *testing.T) {
	is := is.New(t)
	_, ok := Polyline{}.Project(40, -3)
	is.True(!ok)
	_, ok = Polyline{{Lat: 40, Lon: -3}}.Project(40, -3)
	is.True(!ok)
}

func TestIndexPicksShapePerRoute(t *testing.T) {
	is := is.New(t)
	rawShapes := map[string][]RawPoint{
		"sh1": {{Lat: 40, Lon: -3, Sequence: 1}, {Lat: 40.1, Lon: -3, Sequence: 2}},
		"sh2": {{Lat: 41, Lon: -3, Sequence: 1}, {Lat: 41.1, Lon: -3, Sequence: 2}},
	}
	index := NewIndex(rawShapes, map[string][]string{
		"C1": {"sh1", "sh2", "sh1"},
		"C2": {"sh2"},
		"C3": {"missing"},
	})
	is.Equal(index.ForRoute("C1")[0].Lat, 40.0)
	is.Equal(index.ForRoute("C2")[0].Lat, 41.0)
	is.True(index.ForRoute("C3") == nil)
	is.True(index.ForRoute("C4") == nil)
}
