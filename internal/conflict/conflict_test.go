package conflict

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/testutil"
)

func TestMergeRanges(t *testing.T) {
	tests := []struct {
		name string
		in   []Range
		want []Range
	}{
		{"empty", nil, nil},
		{"single", []Range{{60, 120}}, []Range{{60, 120}}},
		{"unsorted disjoint", []Range{{300, 360}, {60, 120}}, []Range{{60, 120}, {300, 360}}},
		{"overlapping", []Range{{60, 120}, {90, 200}}, []Range{{60, 200}}},
		{"touching", []Range{{60, 120}, {120, 180}}, []Range{{60, 180}}},
		{"contained", []Range{{60, 300}, {100, 120}}, []Range{{60, 300}}},
		{"chain", []Range{{500, 600}, {0, 100}, {90, 510}}, []Range{{0, 600}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MergeRanges(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergeRanges() = %v, want %v", got, tt.want)
			}
		})
	}
}

func covered(ranges []Range) [core.DayMinutes]bool {
	var out [core.DayMinutes]bool
	for _, r := range ranges {
		for m := r.Start; m < r.End; m++ {
			out[m] = true
		}
	}
	return out
}

func randomRanges(rng *rand.Rand) []Range {
	n := rng.Intn(8)
	out := make([]Range, n)
	for i := range out {
		start := rng.Intn(core.DayMinutes - 1)
		out[i] = Range{start, start + 1 + rng.Intn(core.DayMinutes-start)}
	}
	return out
}

func TestMergeRanges_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		in := randomRanges(rng)
		merged := MergeRanges(in)

		for j := 1; j < len(merged); j++ {
			if merged[j].Start <= merged[j-1].End {
				t.Fatalf("not disjoint and sorted: %v", merged)
			}
		}
		if covered(in) != covered(merged) {
			t.Fatalf("union changed: %v -> %v", in, merged)
		}
		if !reflect.DeepEqual(MergeRanges(merged), merged) {
			t.Fatalf("re-merging changed %v", merged)
		}
	}
}

func TestFitRanges_Example(t *testing.T) {
	// 09:30-10:00 against 09:00-10:00 and 10:30-11:00 lands at 10:00-10:30
	got, err := FitRanges([]Range{{540, 600}, {630, 660}}, 570, 600)
	testutil.AssertNoError(t, err)
	if got != (Placement{Start: 600, End: 630, Moved: true}) {
		t.Errorf("FitRanges() = %+v", got)
	}
}

func TestFitRanges(t *testing.T) {
	blocked := []Range{{540, 600}, {630, 660}}

	tests := []struct {
		name    string
		blocked []Range
		start   int
		end     int
		want    Placement
		wantErr error
	}{
		{"free", blocked, 480, 540, Placement{480, 540, false}, nil},
		{"skips gap too small", blocked, 560, 620, Placement{660, 720, true}, nil},
		{"minimum duration", nil, 600, 605, Placement{600, 615, true}, nil},
		{"fits at day end", []Range{{0, 1380}}, 600, 660, Placement{1380, 1440, true}, nil},
		{"no room", []Range{{0, 1400}}, 600, 660, Placement{}, core.ErrNoAvailableSlot},
		{"all-day blocked", []Range{{0, core.DayMinutes}}, 600, 660, Placement{}, core.ErrNoAvailableSlot},
		{"start outside day", nil, 1440, 1500, Placement{}, core.ErrInvalidEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FitRanges(tt.blocked, tt.start, tt.end)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			testutil.AssertNoError(t, err)
			if got != tt.want {
				t.Errorf("FitRanges() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFitRanges_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 500; i++ {
		blocked := MergeRanges(randomRanges(rng))
		start := rng.Intn(core.DayMinutes)
		duration := MinDuration + rng.Intn(180)

		got, err := FitRanges(blocked, start, start+duration)
		if err != nil {
			if !errors.Is(err, core.ErrNoAvailableSlot) {
				t.Fatalf("unexpected error %v", err)
			}
			continue
		}
		if got.End-got.Start != duration || got.End > core.DayMinutes || got.Start < start {
			t.Fatalf("bad placement %+v for %d+%d", got, start, duration)
		}
		for _, b := range blocked {
			if (Range{got.Start, got.End}).Overlaps(b) {
				t.Fatalf("placement %+v overlaps %v", got, b)
			}
		}
	}
}

func TestBlocked(t *testing.T) {
	date := "2026-03-02"
	self := testutil.NewEvent(date).At(600, 660).WithID("self").Build()
	events := []core.Event{
		testutil.NewEvent(date).At(540, 600).Build(),
		testutil.NewEvent(date).From(core.SourceGoogle, "g").At(720, 780).Build(),
		testutil.NewEvent(date).From(core.SourceOutlook, "o").At(5, 30).Build(),
		self,
	}

	got := Blocked(events, "self", 10)
	want := []Range{{0, 40}, {540, 600}, {710, 790}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Blocked() = %v, want %v", got, want)
	}

	allDay := append(events, testutil.NewEvent(date).From(core.SourceFeed, "h").AllDay().Build())
	if got := Blocked(allDay, "", 0); !reflect.DeepEqual(got, []Range{{0, core.DayMinutes}}) {
		t.Errorf("all-day Blocked() = %v", got)
	}
}

type dayEvents []core.Event

func (d dayEvents) OnDate(date string) []core.Event {
	var out []core.Event
	for _, e := range d {
		if e.Date == date {
			out = append(out, e)
		}
	}
	return out
}

func TestResolver_Fit(t *testing.T) {
	date := "2026-03-02"
	self := testutil.NewEvent(date).At(540, 600).WithID("self").Build()
	store := dayEvents{
		self,
		testutil.NewEvent(date).From(core.SourceGoogle, "g").At(600, 630).Build(),
		testutil.NewEvent("2026-03-03").At(0, core.DayMinutes).Build(),
	}
	buffer := 15
	r := New(store, func() int { return buffer })

	// Editing self in place does not collide with its own old slot
	got, err := r.Fit(date, 540, 570, "self")
	testutil.AssertNoError(t, err)
	if got != (Placement{540, 570, false}) {
		t.Errorf("Fit(self) = %+v", got)
	}

	// A new event behind self and the padded external meeting
	got, err = r.Fit(date, 560, 590, "")
	testutil.AssertNoError(t, err)
	if got != (Placement{645, 675, true}) {
		t.Errorf("Fit(new) = %+v", got)
	}

	buffer = 0
	got, err = r.Fit(date, 560, 590, "")
	testutil.AssertNoError(t, err)
	if got != (Placement{630, 660, true}) {
		t.Errorf("Fit(new, no buffer) = %+v", got)
	}

	if _, err := r.Fit("not-a-date", 0, 30, ""); !errors.Is(err, core.ErrInvalidEvent) {
		t.Errorf("bad date error = %v", err)
	}
}
