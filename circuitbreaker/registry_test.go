package circuitbreaker

import (
	"testing"
	"time"
)

func TestRegistry_OneBreakerPerUpstream(t *testing.T) {
	r := NewRegistry(Config{Threshold: 1, Cooldown: time.Hour})

	spotify := r.For("spotify")
	if r.For("spotify") != spotify {
		t.Error("Expected the same breaker for the same upstream")
	}

	spotify.RecordFailure()
	if spotify.State() != StateOpen {
		t.Fatalf("Expected spotify to be OPEN, got %s", spotify.State())
	}
	if r.For("youtube").State() != StateClosed {
		t.Error("Expected youtube breaker to be independent")
	}

	snaps := r.Snapshots()
	if len(snaps) != 2 || snaps[0].Name != "spotify" || snaps[1].Name != "youtube" {
		t.Errorf("Unexpected snapshots %+v", snaps)
	}

	r.ResetAll()
	if spotify.State() != StateClosed {
		t.Errorf("Expected CLOSED after ResetAll, got %s", spotify.State())
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(Config{})
	if _, ok := r.Lookup("tabs"); ok {
		t.Error("Expected Lookup not to create breakers")
	}
	r.For("tabs")
	if cb, ok := r.Lookup("tabs"); !ok || cb.Name() != "tabs" {
		t.Error("Expected Lookup to find the tabs breaker")
	}
}
