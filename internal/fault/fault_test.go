package fault

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessageCarriesContext(t *testing.T) {
	err := Provision("queue waveform", "M3202A_2", 1, errors.New("rejected"))
	err.Waveform = 7
	err.Item = 2
	msg := err.Error()
	for _, want := range []string{"provisioning", "queue waveform", "engine=M3202A_2", "channel=1", "waveform=7", "item=2", "rejected"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestIsWalksJoinedAndWrapped(t *testing.T) {
	inner := Compile("M3102A_7", "unknown register %q", "Gap")
	wrapped := fmt.Errorf("compile: %w", inner)
	joined := errors.Join(errors.New("other"), wrapped)

	if !Is(joined, Compilation) {
		t.Fatalf("expected compilation fault in joined error")
	}
	if Is(joined, Execution) {
		t.Fatalf("did not expect runtime fault")
	}
	if Is(nil, Compilation) {
		t.Fatalf("nil is never a fault")
	}

	var fe *Error
	if !errors.As(joined, &fe) || fe.Engine != "M3102A_7" {
		t.Fatalf("errors.As failed: %v", fe)
	}
}

func TestIsNestedKinds(t *testing.T) {
	rt := Runtime("run", "M3202A_4", Config("pulses[0].width", "must be positive"))
	if !Is(rt, Execution) || !Is(rt, Configuration) {
		t.Fatalf("expected both kinds to be visible")
	}
}

func TestAllFlattensJoinedFaults(t *testing.T) {
	a := Provision("queue", "M3202A_2", 1, errors.New("busy"))
	b := Runtime("wait", "M3102A_7", errors.New("timeout"))
	err := errors.Join(a, errors.New("plain"), fmt.Errorf("teardown: %w", errors.Join(b)))

	got := All(err)
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("All() = %v", got)
	}
	if All(nil) != nil {
		t.Fatalf("All(nil) should be nil")
	}
}

func TestConstructorKinds(t *testing.T) {
	tests := []struct {
		err  *Error
		kind Kind
		name string
	}{
		{Config("gap", "bad"), Configuration, "configuration"},
		{Provision("queue", "M3202A_2", 1, errors.New("busy")), Provisioning, "provisioning"},
		{Compile("M3102A_7", "bad"), Compilation, "compilation"},
		{Runtime("wait", "M3102A_7", errors.New("timeout")), Execution, "runtime"},
	}
	for _, tt := range tests {
		if tt.err.Kind != tt.kind || tt.kind.String() != tt.name {
			t.Fatalf("%v: kind %v (%s), want %v (%s)", tt.err, tt.err.Kind, tt.err.Kind, tt.kind, tt.name)
		}
	}
}
