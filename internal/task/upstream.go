package task

import (
	"context"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"

	"basegraph.app/materializer/core/config"
	"basegraph.app/materializer/internal/metrics"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/router"
	"basegraph.app/materializer/internal/store"
)

const (
	OutpatientDischargerName      = "outpatientDischarger"
	DeceasedPatientDischargerName = "deceasedPatientDischarger"
	StaleSyncSessionCleanerName   = "staleSyncSessionCleaner"
)

const defaultStaleSessionMinutes = 10

// upstreamMutation updates a page of rows in table and routes each updated
// row in the same transaction, so the materialize jobs commit together with
// the update or not at all.
type upstreamMutation struct {
	name     string
	table    string
	upstream store.UpstreamStore
	tx       TxRunner
	registry *resource.Registry
	metrics  *metrics.Collector
	update   func(ids []string) sq.UpdateBuilder
}

func (m upstreamMutation) process(ctx context.Context, ids []string) error {
	var updated, enqueued int64
	err := m.tx.WithTx(ctx, func(stores store.TxStores) error {
		var err error
		if updated, err = stores.Upstream().Exec(ctx, m.update(ids)); err != nil {
			return err
		}
		r := router.New(m.registry, stores.Upstream(), stores.Jobs(), router.WithMetrics(m.metrics))
		for _, id := range ids {
			res, err := r.Route(ctx, model.ChangeEvent{Table: m.table, Operation: model.OperationUpdate, RowID: id})
			if err != nil {
				return fmt.Errorf("routing change for %s %s: %w", m.table, id, err)
			}
			enqueued += res.Enqueued
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "updated upstream rows", "task", m.name, "table", m.table, "rows", updated, "enqueued", enqueued)
	return nil
}

// NewOutpatientDischarger closes clinic encounters left open past the day
// they started. The encounter ends at the last second of its start day.
func NewOutpatientDischarger(cfg config.ScheduleConfig, d Deps) (Task, error) {
	where := sq.And{
		sq.Eq{"encounter_type": "clinic", "end_date": nil, "deleted_at": nil},
		sq.Expr("start_date < date_trunc('day', now())"),
	}
	return newUpstreamBatchTask(cfg, d, where, upstreamMutation{
		name:  OutpatientDischargerName,
		table: "encounters",
		update: func(ids []string) sq.UpdateBuilder {
			return sq.Update("encounters").
				Set("end_date", sq.Expr("date_trunc('day', start_date) + interval '1 day' - interval '1 second'")).
				Set("updated_at", sq.Expr("now()")).
				Where(sq.Eq{"id": ids, "end_date": nil})
		},
	})
}

// NewDeceasedPatientDischarger closes every open encounter of a patient with
// a recorded date of death.
func NewDeceasedPatientDischarger(cfg config.ScheduleConfig, d Deps) (Task, error) {
	where := sq.And{
		sq.Eq{"end_date": nil, "deleted_at": nil},
		sq.Expr("EXISTS (SELECT 1 FROM patients p WHERE p.id = encounters.patient_id AND p.date_of_death IS NOT NULL)"),
	}
	return newUpstreamBatchTask(cfg, d, where, upstreamMutation{
		name:  DeceasedPatientDischargerName,
		table: "encounters",
		update: func(ids []string) sq.UpdateBuilder {
			return sq.Update("encounters").
				Set("end_date", sq.Expr("COALESCE((SELECT p.date_of_death FROM patients p WHERE p.id = encounters.patient_id), now())")).
				Set("updated_at", sq.Expr("now()")).
				Where(sq.Eq{"id": ids, "end_date": nil})
		},
	})
}

// NewStaleSyncSessionCleaner marks sync sessions that stopped reporting for
// staleSessionMinutes as failed.
func NewStaleSyncSessionCleaner(cfg config.ScheduleConfig, d Deps) (Task, error) {
	timeout := cfg.StaleSessionMinutes
	if timeout <= 0 {
		timeout = defaultStaleSessionMinutes
	}
	where := sq.And{
		sq.Eq{"completed_at": nil, "errors": nil},
		sq.Expr("last_connection_time < now() - make_interval(mins => ?)", timeout),
	}
	return newUpstreamBatchTask(cfg, d, where, upstreamMutation{
		name:  StaleSyncSessionCleanerName,
		table: "sync_sessions",
		update: func(ids []string) sq.UpdateBuilder {
			return sq.Update("sync_sessions").
				Set("errors", sq.Expr("ARRAY[?::text]", fmt.Sprintf("Session timed out after %d minutes", timeout))).
				Set("completed_at", sq.Expr("now()")).
				Where(sq.Eq{"id": ids, "completed_at": nil})
		},
	})
}
