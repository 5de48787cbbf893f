package core

import (
	"testing"
	"time"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestSortEventsChronologically(t *testing.T) {
	events := []Event{
		{ID: "c", Type: "trial", Date: date(2021, 6, 1)},
		{ID: "a", Type: "arrest", Date: date(2021, 1, 10)},
		{ID: "b", Type: "charge", Date: date(2021, 1, 10)},
	}

	SortEventsChronologically(events)

	got := EventTypeSignature(events)
	want := "arrest>charge>trial"
	if got != want {
		t.Errorf("signature after sort = %q, want %q", got, want)
	}
}

func TestEventSyntheticAndMergedCount(t *testing.T) {
	plain := Event{ID: "e1", Type: "visit", Date: date(2020, 3, 1)}
	if plain.Synthetic() {
		t.Error("plain event reported synthetic")
	}
	if got := plain.MergedCount(); got != 1 {
		t.Errorf("MergedCount = %d, want 1", got)
	}

	merged := Event{
		ID:   "e2",
		Type: "visit",
		Date: date(2020, 3, 1),
		Details: map[string]interface{}{
			DetailMergedCount: 4,
			DetailSynthetic:   true,
		},
	}
	if !merged.Synthetic() {
		t.Error("synthetic flag not detected")
	}
	if got := merged.MergedCount(); got != 4 {
		t.Errorf("MergedCount = %d, want 4", got)
	}

	// JSON round-trips re-type ints as float64.
	decoded := Event{Details: map[string]interface{}{DetailMergedCount: float64(3)}}
	if got := decoded.MergedCount(); got != 3 {
		t.Errorf("MergedCount from float64 = %d, want 3", got)
	}
}

func TestEventClone_Independent(t *testing.T) {
	orig := Event{
		ID:       "e1",
		Type:     "admission",
		Date:     date(2022, 5, 2),
		Location: ParseGeoPath("Springfield, Greene County, MO"),
		Details:  map[string]interface{}{"ward": "B"},
	}

	clone := orig.Clone()
	clone.Details["ward"] = "C"
	clone.Location[0] = "Battlefield"

	if orig.Details["ward"] != "B" {
		t.Error("clone shares details map with original")
	}
	if orig.Location[0] != "Springfield" {
		t.Error("clone shares location slice with original")
	}
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		risk float64
		want RiskBand
	}{
		{0.005, BandPublicRelease},
		{0.01, BandPublicRelease},
		{0.03, BandResearch},
		{0.15, BandInternalOnly},
		{0.31, BandUnsafe},
	}

	for _, tt := range tests {
		if got := BandFor(tt.risk); got != tt.want {
			t.Errorf("BandFor(%v) = %v, want %v", tt.risk, got, tt.want)
		}
	}
}

func TestProtectionParamsValidate(t *testing.T) {
	valid := DefaultParams()
	if err := valid.Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}

	badEps := valid
	badEps.Epsilon = 0
	if err := badEps.Validate(); !IsCode(err, CodeNoiseCalibration) {
		t.Errorf("zero epsilon: got %v, want noise calibration error", err)
	}

	badFlip := valid
	badFlip.FlipProbability = 1.2
	if err := badFlip.Validate(); !IsCode(err, CodeNoiseCalibration) {
		t.Errorf("flip probability 1.2: got %v, want noise calibration error", err)
	}

	badK := valid
	badK.MinGroupSize = 1
	if err := badK.Validate(); err == nil {
		t.Error("min group size 1 accepted")
	}
}
