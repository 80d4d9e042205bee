package logging

import (
	"testing"

	"github.com/tliron/commonlog"
)

func TestConfigureVerbosity(t *testing.T) {
	defer Quiet()

	tests := []struct {
		verbosity int
		level     commonlog.Level
		allowed   bool
	}{
		{0, commonlog.Notice, true},
		{0, commonlog.Info, false},
		{1, commonlog.Info, true},
		{2, commonlog.Debug, true},
		{-1, commonlog.Warning, true},
		{-1, commonlog.Notice, false},
	}
	for _, tt := range tests {
		Configure(tt.verbosity, "")
		if got := commonlog.AllowLevel(tt.level, "starbridge", "executor"); got != tt.allowed {
			t.Errorf("verbosity %d: expected AllowLevel(%s) = %v, got %v", tt.verbosity, tt.level, tt.allowed, got)
		}
	}
}

func TestQuiet(t *testing.T) {
	Configure(2, "")
	Quiet()
	if commonlog.AllowLevel(commonlog.Critical, "starbridge") {
		t.Error("expected all levels to be disabled")
	}
}
