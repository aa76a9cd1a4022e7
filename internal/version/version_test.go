package version

import (
	"strings"
	"testing"
)

func TestServerString(t *testing.T) {
	got := ServerString()
	if !strings.HasPrefix(got, Product+"/") || got == Product+"/" {
		t.Errorf("ServerString() = %q", got)
	}
}

func TestFull(t *testing.T) {
	if Version == "" || Commit == "" {
		t.Fatalf("Version = %q, Commit = %q; init should fill both", Version, Commit)
	}
	if want := Version + " (commit: " + Commit + ")"; Full() != want {
		t.Errorf("Full() = %q, want %q", Full(), want)
	}
}
