// Package jobs binds queue messages to engine entry points and archives
// per-run reports.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/faceid/internal/cluster"
	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/consistency"
	"github.com/your-org/faceid/internal/index"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/observability"
	"github.com/your-org/faceid/internal/suggest"
	"github.com/your-org/faceid/pkg/dto"
)

// Store is the record-store read surface the runner needs to assemble
// engine inputs.
type Store interface {
	ListUnassignedFaces(ctx context.Context, limit int) ([]models.FaceRecord, error)
	ListFacesByPerson(ctx context.Context, personID uuid.UUID) ([]models.FaceRecord, error)
	ListActivePersons(ctx context.Context) ([]models.Person, error)
}

// ReportArchiver stores finished run reports; backed by MinIO.
type ReportArchiver interface {
	PutReport(ctx context.Context, kind string, report any) (string, error)
}

type Runner struct {
	store      Store
	idx        index.Client
	coord      *consistency.Coordinator
	engine     *suggest.Engine
	reconciler *consistency.Reconciler
	reports    ReportArchiver
	engineCfg  config.EngineConfig
	logger     *slog.Logger
}

func NewRunner(store Store, idx index.Client, coord *consistency.Coordinator, engine *suggest.Engine, reconciler *consistency.Reconciler, reports ReportArchiver, engineCfg config.EngineConfig, logger *slog.Logger) *Runner {
	return &Runner{
		store:      store,
		idx:        idx,
		coord:      coord,
		engine:     engine,
		reconciler: reconciler,
		reports:    reports,
		engineCfg:  engineCfg,
		logger:     logger,
	}
}

// HandleCluster runs one clustering pass over currently unassigned faces
// and applies the result through the coordinator.
func (r *Runner) HandleCluster(ctx context.Context, msg jetstream.Msg) error {
	var job dto.ClusterJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		return fmt.Errorf("unmarshal cluster job: %w", err)
	}

	started := time.Now()
	report, err := r.runCluster(ctx, job)
	r.observe("cluster", started, report.Outcome)

	if r.reports != nil {
		if key, perr := r.reports.PutReport(ctx, "cluster", report); perr != nil {
			r.logger.Warn("failed to archive cluster report", "error", perr)
		} else {
			r.logger.Info("cluster report archived", "key", key)
		}
	}
	return err
}

func (r *Runner) runCluster(ctx context.Context, job dto.ClusterJob) (*dto.ClusterReport, error) {
	report := &dto.ClusterReport{JobResult: newResult("cluster")}

	limit := job.Limit
	if limit <= 0 || limit > r.engineCfg.MaxFacesPerRun {
		limit = r.engineCfg.MaxFacesPerRun
	}

	faces, err := r.store.ListUnassignedFaces(ctx, limit)
	if err != nil {
		finish(&report.JobResult, models.OutcomeFailed, err)
		return report, err
	}
	withEmbeddings, err := r.attachEmbeddings(ctx, faces)
	if err != nil {
		finish(&report.JobResult, models.OutcomeFailed, err)
		return report, err
	}
	report.FacesConsidered = len(withEmbeddings)
	if len(withEmbeddings) == 0 {
		finish(&report.JobResult, models.OutcomeCompleted, nil)
		return report, nil
	}

	persons, err := r.personEmbeddings(ctx)
	if err != nil {
		finish(&report.JobResult, models.OutcomeFailed, err)
		return report, err
	}

	result, err := cluster.Cluster(withEmbeddings, persons, cluster.ParamsFromConfig(r.engineCfg))
	if err != nil {
		finish(&report.JobResult, models.OutcomeFailed, err)
		return report, err
	}

	outcome, err := r.coord.ApplyClusterResult(ctx, result)
	if err != nil {
		finish(&report.JobResult, models.OutcomeFailed, err)
		return report, err
	}

	report.Assigned = len(result.Assignments)
	report.Groups = len(result.Groups)
	for _, members := range result.Groups {
		report.Grouped += len(members)
	}
	report.Noise = len(result.Noise)
	finish(&report.JobResult, outcome, nil)
	return report, nil
}

// HandleCentroid recomputes one person's centroid and tops up its exemplar
// prototypes.
func (r *Runner) HandleCentroid(ctx context.Context, msg jetstream.Msg) error {
	var job dto.CentroidJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		return fmt.Errorf("unmarshal centroid job: %w", err)
	}

	started := time.Now()
	_, outcome, err := r.coord.PublishCentroid(ctx, job.PersonID)
	r.observe("centroid", started, dto.Outcome(outcome))
	if err != nil {
		if isExpected(err) {
			r.logger.Info("centroid build skipped",
				"person_id", job.PersonID, "reason", err)
			return nil
		}
		return err
	}

	if err := r.coord.EnsureExemplars(ctx, job.PersonID); err != nil {
		r.logger.Warn("failed to top up exemplars", "person_id", job.PersonID, "error", err)
	}
	return nil
}

// HandleSuggest runs one suggestion strategy, either for a single face or
// fanned out across persons with bounded concurrency.
func (r *Runner) HandleSuggest(ctx context.Context, msg jetstream.Msg) error {
	var job dto.SuggestJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		return fmt.Errorf("unmarshal suggest job: %w", err)
	}
	strategy := suggest.Strategy(job.Strategy)

	started := time.Now()

	var stats suggest.Stats
	var err error
	if strategy == suggest.StrategySingle {
		var candidates []suggest.Candidate
		candidates, err = r.engine.Generate(ctx, suggest.Request{Strategy: strategy, FaceID: job.FaceID})
		if err == nil {
			stats, err = r.engine.Apply(ctx, strategy, candidates)
		}
	} else {
		personIDs := job.PersonIDs
		if len(personIDs) == 0 {
			var persons []models.Person
			persons, err = r.store.ListActivePersons(ctx)
			if err == nil {
				for _, p := range persons {
					personIDs = append(personIDs, p.ID)
				}
			}
		}
		if err == nil {
			stats, err = r.engine.RunForPersons(ctx, strategy, personIDs)
		}
	}

	outcome := dto.OutcomeCompleted
	if err != nil {
		outcome = dto.OutcomeFailed
	}
	r.observe("suggest_"+job.Strategy, started, outcome)
	if err != nil {
		if isExpected(err) {
			r.logger.Info("suggestion run skipped", "strategy", job.Strategy, "reason", err)
			return nil
		}
		return err
	}

	r.logger.Info("suggestion run finished",
		"strategy", job.Strategy,
		"auto_assigned", stats.AutoAssigned,
		"pending", stats.Pending,
		"discarded", stats.Discarded,
		"duplicates", stats.Duplicates)
	return nil
}

// HandleReconcile runs a reconciliation pass and archives the report.
func (r *Runner) HandleReconcile(ctx context.Context, msg jetstream.Msg) error {
	var job dto.ReconcileJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		return fmt.Errorf("unmarshal reconcile job: %w", err)
	}

	started := time.Now()
	rep, err := r.reconciler.Run(ctx, job.QueueOnly)

	report := &dto.ReconcileReport{JobResult: newResult("reconcile")}
	report.JobResult.StartedAt = started
	report.QueueEntries = rep.QueueEntries
	report.FacesScanned = rep.FacesScanned
	report.Repaired = rep.Repaired
	report.MissingPoints = rep.MissingPoints
	outcome := models.OutcomeCompleted
	if err != nil {
		outcome = models.OutcomeFailed
	}
	finish(&report.JobResult, outcome, err)
	r.observe("reconcile", started, report.Outcome)

	if r.reports != nil {
		if _, perr := r.reports.PutReport(ctx, "reconcile", report); perr != nil {
			r.logger.Warn("failed to archive reconcile report", "error", perr)
		}
	}
	return err
}

func (r *Runner) attachEmbeddings(ctx context.Context, faces []models.FaceRecord) ([]models.FaceWithEmbedding, error) {
	var pointIDs []uint64
	var indexed []models.FaceRecord
	for _, f := range faces {
		if f.PointID != nil {
			pointIDs = append(pointIDs, *f.PointID)
			indexed = append(indexed, f)
		}
	}
	if len(indexed) == 0 {
		return nil, nil
	}
	points, err := r.idx.BatchRetrieve(ctx, pointIDs)
	if err != nil {
		return nil, err
	}
	out := make([]models.FaceWithEmbedding, len(indexed))
	for i := range indexed {
		out[i] = models.FaceWithEmbedding{Face: indexed[i], Embedding: points[i].Vector}
	}
	return out, nil
}

func (r *Runner) personEmbeddings(ctx context.Context) ([]cluster.PersonEmbeddings, error) {
	persons, err := r.store.ListActivePersons(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]cluster.PersonEmbeddings, 0, len(persons))
	for _, p := range persons {
		faces, err := r.store.ListFacesByPerson(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		withEmbeddings, err := r.attachEmbeddings(ctx, faces)
		if err != nil {
			return nil, err
		}
		if len(withEmbeddings) == 0 {
			continue
		}
		pe := cluster.PersonEmbeddings{PersonID: p.ID}
		for _, fe := range withEmbeddings {
			pe.Embeddings = append(pe.Embeddings, fe.Embedding)
		}
		out = append(out, pe)
	}
	return out, nil
}

func (r *Runner) observe(job string, started time.Time, outcome dto.Outcome) {
	observability.JobDuration.WithLabelValues(job, string(outcome)).Observe(time.Since(started).Seconds())
}

func newResult(job string) dto.JobResult {
	return dto.JobResult{Job: job, Outcome: dto.OutcomeFailed, StartedAt: time.Now().UTC()}
}

func finish(res *dto.JobResult, outcome models.Outcome, err error) {
	res.Outcome = dto.Outcome(outcome)
	res.FinishedAt = time.Now().UTC()
	if err != nil {
		res.Error = err.Error()
	}
}

// isExpected filters data-quality conditions that should not trigger a
// redelivery.
func isExpected(err error) bool {
	return errors.Is(err, models.ErrInsufficientData) || errors.Is(err, models.ErrBuildInProgress)
}
