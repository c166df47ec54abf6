package version

import "testing"

func TestIsRelease(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"0.3.0", true},
		{"v1.2.3", true},
		{"0.0.0-dev", false},
		{"1.0.0-rc.1", false},
		{"latest", false},
	}
	for _, tt := range tests {
		if got := IsRelease(tt.version); got != tt.want {
			t.Errorf("IsRelease(%q) = %v, want %v", tt.version, got, tt.want)
		}
	}
}

func TestIsVersionGreaterOrEqualThan(t *testing.T) {
	if !IsVersionGreaterOrEqualThan("0.3.0", "0.2.9") {
		t.Error("0.3.0 >= 0.2.9")
	}
	if !IsVersionGreaterOrEqualThan("0.3.0", "0.3.0") {
		t.Error("0.3.0 >= 0.3.0")
	}
	if IsVersionGreaterOrEqualThan("0.3.0", "0.10.0") {
		t.Error("0.3.0 < 0.10.0")
	}
}

func TestGetCurrentVersion(t *testing.T) {
	orig := Version
	t.Cleanup(func() { Version = orig })

	Version = "0.3.0"
	if got := GetCurrentVersion("prod"); got != "0.3.0" {
		t.Errorf("prod = %q", got)
	}
	if got := GetCurrentVersion("dev"); got != "0.3.0-dev" {
		t.Errorf("dev = %q", got)
	}

	Version = "0.0.0-dev"
	if got := GetCurrentVersion("dev"); got != "0.0.0-dev" {
		t.Errorf("dev prerelease = %q", got)
	}
}

func TestString(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = origVersion, origCommit })

	Version, GitCommit = "0.3.0", "0123456789abcdef"
	if got := String(); got != "0.3.0-01234567" {
		t.Errorf("String() = %q", got)
	}
	if got := StringFull(); got != "Version=0.3.0 Commit=0123456789abcdef" {
		t.Errorf("StringFull() = %q", got)
	}
}
