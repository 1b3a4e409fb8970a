// Package enrich adds geolocation, threat-reputation, and user-agent
// detail to an event, per spec.md §4.4. Every external call is
// best-effort: any failure simply omits the field, and correctness of
// the pipeline never depends on enrichment succeeding.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
	uaparser "github.com/ua-parser/uap-go/uaparser"

	"sentrywire/internal/event"
)

const httpTimeout = 2 * time.Second

// Config configures the external enrichment endpoints.
type Config struct {
	IPInfoURL      string `yaml:"ipinfo_url" mapstructure:"ipinfo_url"`
	IPInfoToken    string `yaml:"ipinfo_token" mapstructure:"ipinfo_token"`
	AbuseIPDBURL   string `yaml:"abuseipdb_url" mapstructure:"abuseipdb_url"`
	AbuseIPDBToken string `yaml:"abuseipdb_token" mapstructure:"abuseipdb_token"`
	GeoCacheSize   int    `yaml:"geo_cache_size" mapstructure:"geo_cache_size"`
}

// Enricher performs the three enrichment lookups.
type Enricher struct {
	cfg        Config
	httpClient *http.Client
	geoCache   *lru.Cache[string, *event.Geo]
	uaParser   *uaparser.Parser
	geoBreaker *gobreaker.CircuitBreaker
	tiBreaker  *gobreaker.CircuitBreaker
}

// New builds an Enricher. cfg.GeoCacheSize defaults to 1000 (spec.md §4.4).
func New(cfg Config) (*Enricher, error) {
	size := cfg.GeoCacheSize
	if size <= 0 {
		size = 1000
	}
	cache, err := lru.New[string, *event.Geo](size)
	if err != nil {
		return nil, fmt.Errorf("enrich: geo cache: %w", err)
	}

	breakerSettings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("enrichment circuit breaker state change", "breaker", name, "from", from, "to", to)
			},
		}
	}

	return &Enricher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: httpTimeout},
		geoCache:   cache,
		uaParser:   uaparser.NewFromSaved(),
		geoBreaker: gobreaker.NewCircuitBreaker(breakerSettings("geoip")),
		tiBreaker:  gobreaker.NewCircuitBreaker(breakerSettings("threat_intel")),
	}, nil
}

// Enrich mutates e in place, adding whichever fields succeed.
func (en *Enricher) Enrich(ctx context.Context, e *event.Event) {
	ip := e.EffectiveIP()
	if ip != "" {
		if geo := en.geolocate(ctx, ip); geo != nil {
			e.Geo = geo
		}
		if ti := en.threatIntel(ctx, ip); ti != nil {
			e.ThreatIntel = ti
			if ti.AbuseScore > 80 {
				e.AddAlert(fmt.Sprintf("High-Risk IP Detected (AbuseIPDB Score: %d)", ti.AbuseScore), event.SeverityHigh)
			}
		}
	}
	if e.UserAgent != "" {
		e.UADetails = en.parseUA(e.UserAgent)
	}
}

func (en *Enricher) geolocate(ctx context.Context, ip string) *event.Geo {
	if cached, ok := en.geoCache.Get(ip); ok {
		return cached
	}
	if en.cfg.IPInfoURL == "" {
		return nil
	}

	result, err := en.geoBreaker.Execute(func() (any, error) {
		u := fmt.Sprintf("%s/%s?token=%s", en.cfg.IPInfoURL, url.PathEscape(ip), url.QueryEscape(en.cfg.IPInfoToken))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := en.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("geoip: unexpected status %d", resp.StatusCode)
		}
		var body struct {
			Country string `json:"country"`
			City    string `json:"city"`
			Loc     string `json:"loc"`
			Org     string `json:"org"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, err
		}
		geo := &event.Geo{Country: body.Country, City: body.City, ISP: body.Org}
		fmt.Sscanf(body.Loc, "%f,%f", &geo.Lat, &geo.Lon)
		return geo, nil
	})
	if err != nil {
		slog.Debug("geoip lookup failed", "ip", ip, "error", err)
		return nil
	}
	geo := result.(*event.Geo)
	en.geoCache.Add(ip, geo)
	return geo
}

func (en *Enricher) threatIntel(ctx context.Context, ip string) *event.ThreatIntel {
	if en.cfg.AbuseIPDBURL == "" {
		return nil
	}
	result, err := en.tiBreaker.Execute(func() (any, error) {
		u := fmt.Sprintf("%s?ipAddress=%s&maxAgeInDays=90", en.cfg.AbuseIPDBURL, url.QueryEscape(ip))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Key", en.cfg.AbuseIPDBToken)
		resp, err := en.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("abuseipdb: unexpected status %d", resp.StatusCode)
		}
		var body struct {
			Data struct {
				AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
				IsTor                bool   `json:"isTor"`
				UsageType            string `json:"usageType"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, err
		}
		return &event.ThreatIntel{
			AbuseScore: body.Data.AbuseConfidenceScore,
			IsTor:      body.Data.IsTor,
			UsageType:  body.Data.UsageType,
		}, nil
	})
	if err != nil {
		slog.Debug("threat intel lookup failed", "ip", ip, "error", err)
		return nil
	}
	return result.(*event.ThreatIntel)
}

func (en *Enricher) parseUA(ua string) *event.UADetails {
	client := en.uaParser.Parse(ua)
	if client == nil {
		return nil
	}
	d := &event.UADetails{}
	if client.UserAgent != nil {
		d.Browser = client.UserAgent.Family
	}
	if client.Os != nil {
		d.OS = client.Os.Family
	}
	if client.Device != nil {
		d.Device = client.Device.Family
	}
	return d
}
