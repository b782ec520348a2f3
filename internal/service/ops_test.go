package service_test

import (
	"context"
	"encoding/json"
	"errors"

	sq "github.com/Masterminds/squirrel"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/materializer/core/db"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/service"
	"basegraph.app/materializer/internal/store"
	"basegraph.app/materializer/internal/store/storetest"
)

var _ = Describe("OpsService", func() {
	var (
		ctx       context.Context
		jobs      *storetest.JobStore
		resources *storetest.ResourceStore
		upstream  *storetest.UpstreamStore
		tx        *fakeTx
		trigger   *mockTrigger
		svc       service.OpsService
	)

	BeforeEach(func() {
		ctx = context.Background()
		jobs = storetest.NewJobStore()
		resources = storetest.NewResourceStore()
		upstream = &storetest.UpstreamStore{}
		tx = &fakeTx{jobs: jobs, upstream: upstream}
		trigger = &mockTrigger{}

		registry := resource.NewRegistry(resource.Definition{
			Type:         model.ResourceTypePatient,
			RootTable:    "patients",
			RootFilter:   sq.Expr("r.deleted_at IS NULL"),
			Dependencies: []resource.Dependency{resource.OwnRow("patients")},
			Builder: resource.BuilderFunc(func(context.Context, db.Querier, string) (json.RawMessage, error) {
				return json.RawMessage(`{}`), nil
			}),
		})
		svc = service.NewOpsService(jobs, resources, tx, registry, trigger, nil)
	})

	Describe("Backfill", func() {
		It("enqueues every live root inside one transaction", func() {
			var counted store.Predicate
			upstream.CountFn = func(p store.Predicate) (int64, error) {
				counted = p
				return 2, nil
			}
			jobs.BulkRows = func(model.Topic, sq.SelectBuilder) []model.NewJob {
				var out []model.NewJob
				for _, id := range []string{"p1", "p2"} {
					job, _ := queue.Encode(queue.MaterializePayload{ResourceType: model.ResourceTypePatient, UpstreamID: id}, 0)
					out = append(out, job)
				}
				return out
			}

			res, err := svc.Backfill(ctx, model.ResourceTypePatient)
			Expect(err).NotTo(HaveOccurred())
			Expect(*res).To(Equal(service.BackfillResult{ResourceType: model.ResourceTypePatient, Roots: 2, Enqueued: 2}))
			Expect(tx.calls).To(Equal(1))
			Expect(counted.Table).To(Equal("patients r"))

			for _, j := range jobs.Jobs() {
				Expect(j.Priority).To(Equal(model.PriorityLow))
			}
		})

		It("skips the insert when there are no roots", func() {
			jobs.BulkRows = func(model.Topic, sq.SelectBuilder) []model.NewJob {
				Fail("unexpected bulk enqueue")
				return nil
			}
			res, err := svc.Backfill(ctx, model.ResourceTypePatient)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Enqueued).To(BeZero())
		})

		It("rejects unknown resource types", func() {
			_, err := svc.Backfill(ctx, "Observation")
			Expect(errors.Is(err, service.ErrUnknownResourceType)).To(BeTrue())
		})
	})

	Describe("Enqueue", func() {
		It("enqueues at high priority and reports duplicates", func() {
			created, err := svc.Enqueue(ctx, model.ResourceTypePatient, "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			created, err = svc.Enqueue(ctx, model.ResourceTypePatient, "p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())

			Expect(jobs.Jobs()).To(HaveLen(1))
			Expect(jobs.Jobs()[0].Priority).To(Equal(model.PriorityHigh))
		})
	})

	Describe("Reconcile", func() {
		It("returns the counts it acted on", func() {
			resources.Missing = func(store.RootSpec) int64 { return 4 }
			counts, err := svc.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(HaveKeyWithValue(model.ResourceTypePatient, int64(4)))
		})
	})

	Describe("RetryFailed", func() {
		It("rejects unknown topics", func() {
			topic := model.Topic("reindex")
			_, err := svc.RetryFailed(ctx, &topic)
			Expect(errors.Is(err, queue.ErrUnknownTopic)).To(BeTrue())
		})

		It("requeues errored jobs", func() {
			job, _ := queue.Encode(queue.MaterializePayload{ResourceType: model.ResourceTypePatient, UpstreamID: "p1"}, 0)
			_, _, err := jobs.Enqueue(ctx, job)
			Expect(err).NotTo(HaveOccurred())
			claimed, err := jobs.Claim(ctx, store.ClaimParams{Topics: []model.Topic{model.TopicMaterialize}, WorkerID: "w", Limit: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(jobs.Fail(ctx, claimed[0], "boom")).To(Succeed())

			n, err := svc.RetryFailed(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))
			Expect(jobs.WithStatus(model.TopicMaterialize, model.JobStatusQueued)).To(HaveLen(1))
		})
	})

	It("requests resolution through the trigger", func() {
		Expect(svc.Resolve(ctx)).To(Succeed())
		Expect(trigger.calls).To(Equal(1))
	})

	It("looks resources up by upstream id", func() {
		_, err := resources.Upsert(ctx, model.ResourceTypePatient, "p1", json.RawMessage(`{"a":1}`), true)
		Expect(err).NotTo(HaveOccurred())

		res, err := svc.GetResource(ctx, model.ResourceTypePatient, "p1")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.VersionID).To(Equal(int64(1)))
	})
})
