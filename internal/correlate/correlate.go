// Package correlate implements the Correlator: a three-phase per-IP
// attack state machine held in StateStore, per spec.md §4.7. Workers
// are stateless by design (spec.md §9) — the correlator is a pure
// function of (event, StateStore).
package correlate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentrywire/internal/event"
	"sentrywire/internal/statestore"
)

const phaseTTL = 300 * time.Second

// Correlator evaluates the three phase transitions against StateStore.
type Correlator struct {
	store statestore.Store
}

// New builds a Correlator bound to store.
func New(store statestore.Store) *Correlator {
	return &Correlator{store: store}
}

// Correlate runs all three phase probes independently — a single event
// may fire phase-2 and phase-3 simultaneously — and returns any newly
// appended incidents.
func (c *Correlator) Correlate(ctx context.Context, e *event.Event) ([]string, error) {
	ip := e.EffectiveIP()
	if ip == "" {
		return nil, nil
	}

	var incidents []string

	if hasBruteForceAlert(e.Alerts) {
		if err := c.store.SetFlag(ctx, "risk:phase:1:"+ip, phaseTTL); err != nil {
			return incidents, fmt.Errorf("correlate: phase-1 set: %w", err)
		}
	}

	if e.EventType == "ssh_login_success" {
		phase1, err := c.store.FlagExists(ctx, "risk:phase:1:"+ip)
		if err != nil {
			return incidents, fmt.Errorf("correlate: phase-1 check: %w", err)
		}
		if phase1 {
			if err := c.store.SetFlag(ctx, "risk:phase:2:"+ip, phaseTTL); err != nil {
				return incidents, fmt.Errorf("correlate: phase-2 set: %w", err)
			}
			incidents = append(incidents, fmt.Sprintf("Suspicious Login after Brute Force (%s)", ip))
		}
	}

	if strings.Contains(strings.ToLower(e.Message), "sudo") {
		phase2, err := c.store.FlagExists(ctx, "risk:phase:2:"+ip)
		if err != nil {
			return incidents, fmt.Errorf("correlate: phase-2 check: %w", err)
		}
		if phase2 {
			incidents = append(incidents, fmt.Sprintf("CRITICAL: Privilege Escalation after Brute Force (%s)", ip))
		}
	}

	return incidents, nil
}

func hasBruteForceAlert(alerts []string) bool {
	for _, a := range alerts {
		if strings.Contains(a, "Brute Force") {
			return true
		}
	}
	return false
}
