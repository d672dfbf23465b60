package sysinfo

import (
	"runtime"
	"testing"
	"time"
)

func TestUptimeReturnsPositiveDuration(t *testing.T) {
	d, err := Uptime()
	if err != nil {
		t.Fatalf("Uptime() error = %v", err)
	}
	if d <= 0 {
		t.Errorf("Uptime() = %v, want > 0", d)
	}
}

func TestCPUSamplerFirstCallReturnsZero(t *testing.T) {
	s := NewCPUSampler()
	if got := s.Sample(); got != 0 {
		t.Errorf("first Sample() = %v, want 0", got)
	}
}

func TestCPUSamplerSecondCallReturnsFractionInRange(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("/proc/stat only available on linux")
	}
	s := NewCPUSampler()
	s.Sample()
	time.Sleep(50 * time.Millisecond)
	got := s.Sample()
	if got < 0 || got > 1 {
		t.Errorf("Sample() = %v, want in [0,1]", got)
	}
}

func TestHostnameIsNonEmpty(t *testing.T) {
	if Hostname() == "" {
		t.Error("Hostname() = \"\", want a non-empty name")
	}
}
