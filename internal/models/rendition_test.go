package models

import "testing"

func TestRenditionSet_SortAndHighest(t *testing.T) {
	set := RenditionSet{Renditions: []Rendition{
		{Label: "1080p", Height: 1080, Bandwidth: 5_192_000},
		{Label: "480p", Height: 480, Bandwidth: 1_296_000},
		{Label: "720p", Height: 720, Bandwidth: 2_928_000},
	}}
	set.SortByBandwidth()

	if set.Renditions[0].Label != "480p" || set.Renditions[2].Label != "1080p" {
		t.Fatalf("unexpected order: %+v", set.Renditions)
	}

	tests := []struct {
		ceiling int
		want    string
		found   bool
	}{
		{0, "1080p", true},
		{720, "720p", true},
		{1080, "1080p", true},
		{600, "480p", true},
		{360, "", false},
	}
	for _, tt := range tests {
		got, ok := set.Highest(tt.ceiling)
		if ok != tt.found || got.Label != tt.want {
			t.Errorf("Highest(%d) = %q,%t want %q,%t", tt.ceiling, got.Label, ok, tt.want, tt.found)
		}
	}
}

func TestRenditionSet_HighestUsesTargetHeight(t *testing.T) {
	// A 3.2:1 source: the 1080p target encodes only 600 rows.
	set := RenditionSet{Renditions: []Rendition{
		{Label: "480p", Height: 266, TargetHeight: 480, Bandwidth: 1_296_000},
		{Label: "1080p", Height: 600, TargetHeight: 1080, Bandwidth: 5_711_200},
	}}

	got, ok := set.Highest(720)
	if !ok || got.Label != "480p" {
		t.Fatalf("Highest(720) = %q,%t want 480p", got.Label, ok)
	}
	if set.Renditions[1].Within(720) {
		t.Error("1080p target must not fit a 720 ceiling")
	}

	legacy := Rendition{Label: "720p", Height: 720}
	if legacy.NominalHeight() != 720 || !legacy.Within(720) {
		t.Errorf("rendition without target height: nominal=%d", legacy.NominalHeight())
	}
}
