package errkind

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyMatchesWrappedSentinel(t *testing.T) {
	err := fmt.Errorf("replay %s: %w", "dump.sql", ErrReplayFailed)
	if got := Classify(err); got != KindReplayFailed {
		t.Errorf("Classify = %v, want KindReplayFailed", got)
	}
}

func TestClassifyUnknownForUnwrappedError(t *testing.T) {
	if got := Classify(errors.New("boom")); got != KindUnknown {
		t.Errorf("Classify = %v, want KindUnknown", got)
	}
}

func TestClassifyNilIsUnknown(t *testing.T) {
	if got := Classify(nil); got != KindUnknown {
		t.Errorf("Classify(nil) = %v, want KindUnknown", got)
	}
}

func TestFatalInSingleContainerJobAlwaysTrue(t *testing.T) {
	kinds := []Kind{KindUnknown, KindCaptureFailed, KindIO, KindReadinessTimeout, KindReplayFailed}
	for _, k := range kinds {
		if !FatalInSingleContainerJob(k) {
			t.Errorf("FatalInSingleContainerJob(%v) = false, want true", k)
		}
	}
}

func TestFatalInStackRestore(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindRewriteFailed, true},
		{KindDeployFailed, true},
		{KindParse, true},
		{KindNotFound, true},
		{KindReadinessTimeout, false},
		{KindReplayFailed, false},
		{KindIO, false},
		{KindUnknown, false},
	}
	for _, tt := range tests {
		if got := FatalInStackRestore(tt.kind); got != tt.want {
			t.Errorf("FatalInStackRestore(%v) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
