// Package respond implements the Responder: risk scoring, whitelist
// bypass, and timed blocklist publication, per spec.md §4.8. Grounded
// in the teacher's policy.Engine risk-ladder: a base score by severity,
// additive adjustments, then a single threshold check — the same shape
// as policy.calculateRiskScore/determineRiskAction, simplified to the
// two-outcome ladder {monitor, block} spec.md names.
package respond

import (
	"context"
	"fmt"
	"net"
	"time"

	"sentrywire/internal/event"
	"sentrywire/internal/statestore"
)

// Config is the response policy loaded from YAML at startup.
type Config struct {
	Whitelist struct {
		CIDRs []string `yaml:"cidrs"`
	} `yaml:"whitelist"`
	Policy struct {
		BlockThreshold        int `yaml:"block_threshold"`
		BlockDurationSeconds  int `yaml:"block_duration_seconds"`
	} `yaml:"policy"`
}

// DefaultConfig matches spec.md §4.8's stated defaults.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.Policy.BlockThreshold = 80
	cfg.Policy.BlockDurationSeconds = 300
	return cfg
}

// Responder computes a risk score and, past the configured threshold,
// publishes a blocklist entry to StateStore.
type Responder struct {
	cfg       Config
	whitelist []*net.IPNet
	store     statestore.Store
}

// New parses cfg's CIDRs and builds a Responder bound to store.
func New(cfg Config, store statestore.Store) (*Responder, error) {
	nets := make([]*net.IPNet, 0, len(cfg.Whitelist.CIDRs))
	for _, cidr := range cfg.Whitelist.CIDRs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("respond: invalid whitelist cidr %q: %w", cidr, err)
		}
		nets = append(nets, ipnet)
	}
	return &Responder{cfg: cfg, whitelist: nets, store: store}, nil
}

// Respond resolves the event's IP, checks the whitelist, scores risk,
// and blocks the IP if the score meets the configured threshold.
// Whitelisting is authoritative: a whitelisted IP never reaches the
// block path, even at CRITICAL severity.
func (r *Responder) Respond(ctx context.Context, e *event.Event) (*event.ResponseAction, error) {
	ip := e.EffectiveIP()
	if ip == "" {
		return nil, nil
	}

	parsed := net.ParseIP(ip)
	if parsed != nil {
		for _, n := range r.whitelist {
			if n.Contains(parsed) {
				return &event.ResponseAction{Action: "monitor"}, nil
			}
		}
	}

	score := baseScore(e.Severity)
	if len(e.Incidents) > 0 {
		score += 10
	}

	threshold := r.cfg.Policy.BlockThreshold
	if threshold <= 0 {
		threshold = 80
	}

	if score >= threshold {
		duration := r.cfg.Policy.BlockDurationSeconds
		if duration <= 0 {
			duration = 300
		}
		reason := fmt.Sprintf("Risk Score: %d", score)
		if err := r.store.Block(ctx, ip, reason, time.Duration(duration)*time.Second); err != nil {
			return nil, fmt.Errorf("respond: block %s: %w", ip, err)
		}
		return &event.ResponseAction{Action: "block", Score: score, Reason: reason}, nil
	}

	return &event.ResponseAction{Action: "monitor", Score: score}, nil
}

func baseScore(sev event.Severity) int {
	switch {
	case sev >= event.SeverityCritical:
		return 100
	case sev >= event.SeverityHigh:
		return 70
	case sev >= event.SeverityMedium:
		return 40
	default:
		return 10
	}
}
