package task_test

import (
	"context"
	"errors"
	"slices"

	sq "github.com/Masterminds/squirrel"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/materializer/core/config"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/store"
	"basegraph.app/materializer/internal/store/storetest"
	"basegraph.app/materializer/internal/task"
)

var _ = Describe("upstream tasks", func() {
	var (
		ctx      context.Context
		upstream *storetest.UpstreamStore
		jobs     *storetest.JobStore
		tx       *fakeTx
		deps     task.Deps
		open     []string
		cfg      config.ScheduleConfig
	)

	queuedFor := func() []string {
		var out []string
		for _, j := range jobs.WithStatus(model.TopicMaterialize, model.JobStatusQueued) {
			out = append(out, *j.Discriminant)
		}
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		open = []string{"e1", "e2", "e3"}
		cfg = scheduleConfig(ptr(2), ptr(0))
		jobs = storetest.NewJobStore()

		upstream = &storetest.UpstreamStore{
			CountFn: func(store.Predicate) (int64, error) { return int64(len(open)), nil },
			FindIDsFn: func(_ store.Predicate, limit int) ([]string, error) {
				return slices.Clone(open[:min(limit, len(open))]), nil
			},
			ExecFn: func(stmt sq.Sqlizer) (int64, error) {
				_, args, err := stmt.ToSql()
				if err != nil {
					return 0, err
				}
				before := len(open)
				open = slices.DeleteFunc(open, func(id string) bool {
					return slices.Contains(args, any(id))
				})
				return int64(before - len(open)), nil
			},
			// Root-table fan-out selects the changed row; joins find nothing.
			RootIDsFn: func(query sq.Sqlizer) ([]string, error) {
				sql, args, err := query.ToSql()
				if err != nil {
					return nil, err
				}
				if sql == "SELECT ?::text AS id" {
					return []string{args[0].(string)}, nil
				}
				return nil, nil
			},
		}
		tx = &fakeTx{
			jobs:     jobs,
			upstream: upstream,
			snapshot: func() func() {
				saved := slices.Clone(open)
				return func() { open = saved }
			},
		}
		deps = task.Deps{Registry: resource.Default(), Upstream: upstream, Jobs: jobs, Tx: tx}
	})

	It("discharges stale outpatient encounters in batches and enqueues their resources", func() {
		var predicate store.Predicate
		upstream.CountFn = func(p store.Predicate) (int64, error) {
			predicate = p
			return int64(len(open)), nil
		}

		t, err := task.NewOutpatientDischarger(cfg, deps)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Name()).To(Equal(task.OutpatientDischargerName))
		Expect(t.Run(ctx)).To(Succeed())

		Expect(predicate.Table).To(Equal("encounters"))
		where, args, err := predicate.Where.ToSql()
		Expect(err).NotTo(HaveOccurred())
		Expect(where).To(ContainSubstring("encounter_type = ?"))
		Expect(where).To(ContainSubstring("end_date IS NULL"))
		Expect(args).To(ConsistOf("clinic"))

		Expect(upstream.Execs).To(HaveLen(2))
		Expect(tx.calls).To(Equal(2))
		update, _, err := upstream.Execs[0].ToSql()
		Expect(err).NotTo(HaveOccurred())
		Expect(update).To(HavePrefix("UPDATE encounters SET end_date ="))

		Expect(open).To(BeEmpty())
		Expect(queuedFor()).To(ConsistOf(
			"Encounter:e1", "EncounterReport:e1",
			"Encounter:e2", "EncounterReport:e2",
			"Encounter:e3", "EncounterReport:e3",
		))
	})

	It("discharges encounters of deceased patients", func() {
		t, err := task.NewDeceasedPatientDischarger(cfg, deps)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Run(ctx)).To(Succeed())

		update, _, _ := upstream.Execs[0].ToSql()
		Expect(update).To(ContainSubstring("date_of_death"))
		Expect(queuedFor()).To(HaveLen(6))
	})

	It("times out stale sync sessions using the staleness threshold", func() {
		cfg.StaleSessionMinutes = 30
		cfg.TimeoutMinutes = 5
		var predicate store.Predicate
		upstream.CountFn = func(p store.Predicate) (int64, error) {
			predicate = p
			return int64(len(open)), nil
		}

		t, err := task.NewStaleSyncSessionCleaner(cfg, deps)
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Run(ctx)).To(Succeed())

		Expect(predicate.Table).To(Equal("sync_sessions"))
		_, args, _ := predicate.Where.ToSql()
		Expect(args).To(ContainElement(30))
		Expect(args).NotTo(ContainElement(5))
		Expect(open).To(BeEmpty())
		Expect(jobs.Jobs()).To(BeEmpty())
	})

	It("refuses to build without batch settings", func() {
		_, err := task.NewOutpatientDischarger(config.ScheduleConfig{Schedule: "0 2 * * *"}, deps)
		Expect(err).To(MatchError(config.ErrMissingBatchConfig))
	})

	It("leaves rows pending when their jobs cannot be enqueued", func() {
		jobs.Err = errors.New("connection reset")
		t, err := task.NewOutpatientDischarger(cfg, deps)
		Expect(err).NotTo(HaveOccurred())

		Expect(t.Run(ctx)).To(MatchError(ContainSubstring("routing change for encounters e1")))
		Expect(open).To(Equal([]string{"e1", "e2", "e3"}))

		jobs.Err = nil
		Expect(t.Run(ctx)).To(Succeed())
		Expect(open).To(BeEmpty())
		Expect(queuedFor()).To(HaveLen(6))
	})
})
