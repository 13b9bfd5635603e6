package playout

import (
	"testing"
	"time"
)

func TestClassifyRapidFailuresEscalate(t *testing.T) {
	p := DefaultPolicy()
	var c Counters
	rapid := Attempt{ExitCode: 1, Elapsed: 2 * time.Second, ErrorText: "source could not be played"}

	for i := 1; i < p.Threshold; i++ {
		d := p.Classify(&c, rapid)
		if d.Outcome != OutcomeRetry || d.Delay != p.RetryDelay || d.Cascade {
			t.Fatalf("failure %d: expected retry, got %+v", i, d)
		}
		if c.RapidFailures != i {
			t.Fatalf("failure %d: counter = %d", i, c.RapidFailures)
		}
	}

	d := p.Classify(&c, rapid)
	if d.Outcome != OutcomeFailed || !d.Cascade || d.Delay != p.CascadeBackoff || d.Error != "source could not be played" {
		t.Fatalf("threshold failure: expected cascade failure, got %+v", d)
	}
	if c.RapidFailures != 0 {
		t.Fatalf("counter must reset after cascade, got %d", c.RapidFailures)
	}
}

func TestClassifyNormalSuccessResetsCounters(t *testing.T) {
	p := DefaultPolicy()
	c := Counters{RapidFailures: 2, RapidSuccesses: 1}

	d := p.Classify(&c, Attempt{ExitCode: 0, Elapsed: 10 * time.Second})
	if d.Outcome != OutcomePlayed {
		t.Fatalf("expected played, got %+v", d)
	}
	if c != (Counters{}) {
		t.Fatalf("expected counters reset, got %+v", c)
	}

	// The next rapid failure starts counting from one again.
	if d := p.Classify(&c, Attempt{ExitCode: 1, Elapsed: time.Second}); d.Outcome != OutcomeRetry || c.RapidFailures != 1 {
		t.Fatalf("expected fresh retry, got %+v with %+v", d, c)
	}
}

func TestClassifyLongNonzeroExitIsPlayed(t *testing.T) {
	p := DefaultPolicy()
	c := Counters{RapidFailures: 2}
	d := p.Classify(&c, Attempt{ExitCode: 2, Elapsed: 90 * time.Second})
	if d.Outcome != OutcomePlayed || c.RapidFailures != 0 {
		t.Fatalf("expected played without failure count, got %+v %+v", d, c)
	}
}

func TestClassifyInterruptedAlwaysSkips(t *testing.T) {
	p := DefaultPolicy()
	tests := []Attempt{
		{ExitCode: 4, Elapsed: 100 * time.Millisecond, Interrupted: true},
		{ExitCode: 0, Elapsed: time.Hour, Interrupted: true},
		{ExitCode: 1, Elapsed: time.Second, Interrupted: true},
	}
	for _, a := range tests {
		c := Counters{RapidFailures: 2, RapidSuccesses: 2}
		if d := p.Classify(&c, a); d.Outcome != OutcomeSkipped {
			t.Fatalf("attempt %+v: expected skipped, got %+v", a, d)
		}
		if c != (Counters{}) {
			t.Fatalf("attempt %+v: counters not reset: %+v", a, c)
		}
	}
}

func TestClassifyRapidSuccessesTrackedSeparately(t *testing.T) {
	p := Policy{MinPlay: 5 * time.Second, Threshold: 2, RetryDelay: time.Second, CascadeBackoff: time.Minute}
	var c Counters
	quick := Attempt{ExitCode: 0, Elapsed: 500 * time.Millisecond}

	if d := p.Classify(&c, quick); d.Outcome != OutcomeRetry || c.RapidSuccesses != 1 || c.RapidFailures != 0 {
		t.Fatalf("first quick exit: %+v %+v", d, c)
	}
	d := p.Classify(&c, quick)
	if d.Outcome != OutcomeFailed || !d.Cascade || d.Delay != time.Minute {
		t.Fatalf("second quick exit: expected cascade, got %+v", d)
	}
	if c.RapidSuccesses != 0 {
		t.Fatalf("counter must reset after cascade: %+v", c)
	}
}

func TestClassifyOtherKindResetsCounter(t *testing.T) {
	p := Policy{MinPlay: 5 * time.Second, Threshold: 3, RetryDelay: time.Second, CascadeBackoff: time.Minute}
	var c Counters
	fail := Attempt{ExitCode: 1, Elapsed: 100 * time.Millisecond}
	quick := Attempt{ExitCode: 0, Elapsed: 100 * time.Millisecond}

	p.Classify(&c, fail)
	p.Classify(&c, fail)
	if d := p.Classify(&c, quick); d.Outcome != OutcomeRetry || c.RapidFailures != 0 || c.RapidSuccesses != 1 {
		t.Fatalf("quick exit after failures: %+v %+v", d, c)
	}
	if d := p.Classify(&c, fail); d.Outcome != OutcomeRetry || c.RapidFailures != 1 || c.RapidSuccesses != 0 {
		t.Fatalf("failure after quick exit: %+v %+v", d, c)
	}
}

func TestClassifyFallbackErrorText(t *testing.T) {
	var c Counters
	d := DefaultPolicy().Classify(&c, Attempt{ExitCode: 7, Elapsed: time.Second})
	if d.Error != "player exited with code 7" {
		t.Fatalf("unexpected error text %q", d.Error)
	}
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{}.withDefaults()
	if p != DefaultPolicy() {
		t.Fatalf("expected defaults, got %+v", p)
	}
	custom := Policy{MinPlay: time.Second, Threshold: 5}.withDefaults()
	if custom.MinPlay != time.Second || custom.Threshold != 5 || custom.RetryDelay != 0 {
		t.Fatalf("custom values overwritten: %+v", custom)
	}
}
