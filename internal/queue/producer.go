// Package queue carries engine jobs over a JetStream work queue. The worker
// consumes; the Publish methods are the enqueue surface for the external
// scheduler and review layer, which trigger runs by publishing job payloads
// rather than calling the engines directly.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	JobsStreamName  = "JOBS"
	JobsSubjectBase = "jobs"

	SubjectCluster   = JobsSubjectBase + ".cluster"
	SubjectCentroid  = JobsSubjectBase + ".centroid"
	SubjectSuggest   = JobsSubjectBase + ".suggest"
	SubjectReconcile = JobsSubjectBase + ".reconcile"
)

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates the JOBS stream if it doesn't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        JobsStreamName,
		Subjects:    []string{JobsSubjectBase + ".>"},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		Duplicates:  30 * time.Second,
		Description: "Clustering, centroid, suggestion and reconcile jobs",
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishCluster enqueues a clustering run.
func (p *Producer) PublishCluster(ctx context.Context, job any) error {
	return p.publish(ctx, SubjectCluster, job)
}

// PublishCentroid enqueues a centroid recompute, sharded per person so
// consumers can observe per-person ordering.
func (p *Producer) PublishCentroid(ctx context.Context, personID string, job any) error {
	return p.publish(ctx, SubjectCentroid+"."+personID, job)
}

// PublishSuggest enqueues suggestion generation for one strategy.
func (p *Producer) PublishSuggest(ctx context.Context, strategy string, job any) error {
	return p.publish(ctx, SubjectSuggest+"."+strategy, job)
}

// PublishReconcile enqueues a reconciliation pass.
func (p *Producer) PublishReconcile(ctx context.Context, job any) error {
	return p.publish(ctx, SubjectReconcile, job)
}

func (p *Producer) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// QueueDepth returns the number of pending messages in the JOBS stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, JobsStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
