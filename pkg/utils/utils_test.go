package utils

import (
	"reflect"
	"testing"
	"time"
)

func TestCoalesceString(t *testing.T) {
	if got := CoalesceString("", "a", "b"); got != "a" {
		t.Errorf("CoalesceString = %s, want a", got)
	}
	if got := CoalesceString("", ""); got != "" {
		t.Errorf("CoalesceString = %s, want empty", got)
	}
}

func TestParseDurationDefault(t *testing.T) {
	if got := ParseDurationDefault("", time.Second); got != time.Second {
		t.Errorf("empty should use default, got %v", got)
	}
	if got := ParseDurationDefault("bogus", time.Second); got != time.Second {
		t.Errorf("invalid should use default, got %v", got)
	}
	if got := ParseDurationDefault("2m", time.Second); got != 2*time.Minute {
		t.Errorf("ParseDurationDefault = %v, want 2m", got)
	}
}

func TestDedupStrings(t *testing.T) {
	got := DedupStrings([]string{"medical", "legal", "medical", "", "legal"})
	want := []string{"medical", "legal"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DedupStrings = %v, want %v", got, want)
	}
	if DedupStrings(nil) != nil {
		t.Error("DedupStrings(nil) should be nil")
	}
}
