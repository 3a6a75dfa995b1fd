package harness

import (
	"fmt"

	"github.com/modvault/modvault/internal/chunk"
	"github.com/modvault/modvault/internal/virtualize"
)

// Check evaluates a scenario's expectations against a result. It
// returns one error per violated expectation, so a failing scenario
// reports everything wrong at once.
func Check(scenario *Scenario, result *Result) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch scenario.Expect.Bootstrap {
	case BootstrapOK:
		if result.BootstrapErr != nil {
			fail("expected bootstrap to succeed, got: %v", result.BootstrapErr)
		}
	case BootstrapReject:
		if result.BootstrapErr == nil {
			fail("expected bootstrap to reject, but it succeeded")
		}
	}

	for _, p := range scenario.Expect.Resolved {
		vid := chunk.VirtualID(p)
		if st := result.Table.State(vid); st != virtualize.StateResolved {
			fail("expected %s to be resolved, got %s", vid, st)
		}
	}
	for _, p := range scenario.Expect.Failed {
		vid := chunk.VirtualID(p)
		if st := result.Table.State(vid); st != virtualize.StateFailed {
			fail("expected %s to be failed, got %s", vid, st)
		}
	}

	if want := scenario.Expect.Aliases; want != nil {
		got := 0
		for _, ev := range result.Trace {
			if ev.Type == virtualize.EventAlias {
				got++
			}
		}
		if got != *want {
			fail("expected %d alias(es), got %d", *want, got)
		}
	}

	if want := scenario.Expect.StoreHits; want != nil && result.Stats.StoreHits != *want {
		fail("expected %d store hit(s), got %d", *want, result.Stats.StoreHits)
	}
	if want := scenario.Expect.NetworkFetches; want != nil && result.Stats.NetworkFetches != *want {
		fail("expected %d network fetch(es), got %d", *want, result.Stats.NetworkFetches)
	}
	if want := scenario.Expect.WriteBacks; want != nil && result.Stats.WriteBacks != *want {
		fail("expected %d write-back(s), got %d", *want, result.Stats.WriteBacks)
	}
	if want := scenario.Expect.Warnings; want != nil && len(result.Warnings) != *want {
		fail("expected %d rewrite warning(s), got %d", *want, len(result.Warnings))
	}

	return errs
}
