// Package worker implements the WorkerPipeline: a blocking read loop
// against Queue that runs every event through Normalizer → Enricher →
// RuleEngine → AnomalyScorer → Correlator → Responder → EventIndex,
// per spec.md §4.9. Grounded in the teacher's session.Manager
// lifecycle/orchestration style (explicit dependency-injected handles
// constructed at startup, a single Run loop, a callback-free stateless
// design per spec.md §9).
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"sentrywire/internal/anomaly"
	"sentrywire/internal/correlate"
	"sentrywire/internal/enrich"
	"sentrywire/internal/event"
	"sentrywire/internal/eventindex"
	"sentrywire/internal/metrics"
	"sentrywire/internal/normalize"
	"sentrywire/internal/queue"
	"sentrywire/internal/respond"
	"sentrywire/internal/rules"
	"sentrywire/internal/statestore"
	"sentrywire/internal/telemetry"
)

const (
	batchSize  = 10
	blockTime  = 2 * time.Second
	retryDelay = 1 * time.Second
)

// Pipeline owns the process-scoped handles to every stage, all
// constructed at startup and injected explicitly (spec.md §9:
// "process-wide singletons map to explicit dependency-injected handles
// constructed at startup").
type Pipeline struct {
	consumerID string
	queue      queue.Queue
	store      statestore.Store
	normalizer *normalize.Normalizer
	enricher   *enrich.Enricher
	rules      *rules.Engine
	scorer     *anomaly.Scorer
	correlator *correlate.Correlator
	responder  *respond.Responder
	index      *eventindex.Index
	telemetry  *telemetry.Provider
}

// New builds a Pipeline bound to the given consumer ID and stage
// implementations. tp may be telemetry.NoopProvider() when tracing is
// disabled.
func New(
	consumerID string,
	q queue.Queue,
	store statestore.Store,
	normalizer *normalize.Normalizer,
	enricher *enrich.Enricher,
	ruleEngine *rules.Engine,
	scorer *anomaly.Scorer,
	correlator *correlate.Correlator,
	responder *respond.Responder,
	index *eventindex.Index,
	tp *telemetry.Provider,
) *Pipeline {
	return &Pipeline{
		consumerID: consumerID,
		queue:      q,
		store:      store,
		normalizer: normalizer,
		enricher:   enricher,
		rules:      ruleEngine,
		scorer:     scorer,
		correlator: correlator,
		responder:  responder,
		index:      index,
		telemetry:  tp,
	}
}

// Run blocks, pulling batches from Queue until ctx is cancelled. Fatal
// read errors are logged and retried after retryDelay, per spec.md
// §5's cancellation/timeout model.
func (p *Pipeline) Run(ctx context.Context) {
	if err := p.queue.EnsureGroup(ctx); err != nil {
		slog.Error("failed to ensure consumer group", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := p.queue.Read(ctx, p.consumerID, batchSize, blockTime)
		if err != nil {
			slog.Error("queue read failed, retrying", "error", err)
			time.Sleep(retryDelay)
			continue
		}

		for _, msg := range msgs {
			p.processMessage(ctx, msg)
		}
	}
}

func (p *Pipeline) processMessage(ctx context.Context, msg queue.Message) {
	if msg.Deliveries > queue.MaxDeliveries {
		if err := p.queue.DeadLetter(ctx, msg); err != nil {
			slog.Error("failed to dead-letter message", "id", msg.ID, "error", err)
		}
		return
	}

	var e event.Event
	if err := json.Unmarshal([]byte(msg.Data), &e); err != nil {
		// Malformed JSON is the one fatal, per-message failure mode
		// (spec.md §7): log it and leave it unacknowledged in the
		// group's pending list. Queue.Read returns only new entries, so
		// this pipeline does not read the message again.
		slog.Error("malformed event on queue, left unacknowledged", "id", msg.ID, "error", err)
		return
	}

	if err := p.processEvent(ctx, &e); err != nil {
		slog.Error("event processing failed, left unacknowledged", "id", msg.ID, "error", err)
		return
	}

	if err := p.queue.Ack(ctx, msg.ID); err != nil {
		slog.Error("failed to ack message", "id", msg.ID, "error", err)
	}
}

func (p *Pipeline) processEvent(ctx context.Context, e *event.Event) error {
	stage := func(name string, fn func() error) error {
		start := time.Now()
		_, span := p.telemetry.StartStageSpan(ctx, name, e.Source, e.EffectiveIP())
		err := fn()
		p.telemetry.EndStageSpan(span, e.SeverityName, len(e.Alerts), len(e.Incidents), err)
		metrics.PipelineStageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		return err
	}

	_ = stage("normalize", func() error {
		fields := p.normalizer.Normalize(e.Source, e.Message)
		e.MergeNormalized(fields)
		return nil
	})

	_ = stage("enrich", func() error {
		p.enricher.Enrich(ctx, e)
		return nil
	})

	if err := stage("rules", func() error {
		alerts, sev, err := p.rules.Evaluate(ctx, e)
		if err != nil {
			return err
		}
		for _, a := range alerts {
			e.AddAlert(a, sev)
			metrics.AlertsRaisedTotal.Inc()
		}
		return nil
	}); err != nil {
		return fmt.Errorf("worker: rules stage: %w", err)
	}

	_ = stage("anomaly", func() error {
		loginRate, _ := p.store.GetCounter(ctx, "rate_limit:"+e.EffectiveIP())
		features := anomaly.Features{
			float64(e.Timestamp.Hour()),
			float64(len(e.Message)),
			boolToFloat(e.Source == "ssh"),
			float64(loginRate),
		}
		score, explanation := p.scorer.Score(features)
		e.AnomalyScore = score
		e.AnomalyExplanation = explanation
		if score > 0.7 {
			e.MLAnomaly = true
			// No severity escalation for ML-detected anomalies: pass the
			// event's current severity so AddAlert records the alert
			// without raising it.
			e.AddAlert("ML Detection: "+explanation, e.Severity)
			metrics.AlertsRaisedTotal.Inc()
		}
		return nil
	})

	if err := stage("correlate", func() error {
		incidents, err := p.correlator.Correlate(ctx, e)
		if err != nil {
			return err
		}
		for _, inc := range incidents {
			e.AddIncident(inc)
			metrics.IncidentsRaisedTotal.Inc()
		}
		return nil
	}); err != nil {
		return fmt.Errorf("worker: correlate stage: %w", err)
	}

	if err := stage("respond", func() error {
		action, err := p.responder.Respond(ctx, e)
		if err != nil {
			return err
		}
		e.ResponseAction = action
		if action != nil && action.Action == "block" {
			metrics.BlocksIssuedTotal.Inc()
		}
		return nil
	}); err != nil {
		return fmt.Errorf("worker: respond stage: %w", err)
	}

	if err := stage("persist", func() error {
		return p.index.Persist(ctx, e)
	}); err != nil {
		return fmt.Errorf("worker: persist stage: %w", err)
	}

	metrics.EventsProcessedTotal.WithLabelValues(e.SeverityName).Inc()
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
