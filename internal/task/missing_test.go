package task_test

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
	"basegraph.app/materializer/internal/store"
	"basegraph.app/materializer/internal/store/storetest"
	"basegraph.app/materializer/internal/task"
)

var _ = Describe("MissingResources", func() {
	var (
		ctx       context.Context
		jobs      *storetest.JobStore
		resources *storetest.ResourceStore
		roots     map[model.ResourceType][]string
		scanner   *task.MissingResources
	)

	// pending mirrors the anti-join: roots with no resource and no queued job.
	pending := func(rt model.ResourceType) []string {
		queued := make(map[string]bool)
		for _, j := range jobs.WithStatus(model.TopicMaterialize, model.JobStatusQueued) {
			queued[*j.Discriminant] = true
		}
		var out []string
		for _, id := range roots[rt] {
			if !queued[queue.MaterializeDiscriminant(rt, id)] {
				out = append(out, id)
			}
		}
		return out
	}

	definition := func(rt model.ResourceType, table string) resource.Definition {
		return resource.Definition{
			Type:         rt,
			RootTable:    table,
			Dependencies: []resource.Dependency{resource.OwnRow(table)},
			Builder: resource.BuilderFunc(func(context.Context, db.Querier, string) (json.RawMessage, error) {
				return nil, resource.ErrUpstreamNotFound
			}),
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		jobs = storetest.NewJobStore()
		resources = storetest.NewResourceStore()
		roots = map[model.ResourceType][]string{
			model.ResourceTypePatient:   {"p1", "p2", "p3"},
			model.ResourceTypeEncounter: {},
		}

		resources.Missing = func(spec store.RootSpec) int64 {
			return int64(len(pending(spec.ResourceType)))
		}
		jobs.BulkRows = func(_ model.Topic, source sq.SelectBuilder) []model.NewJob {
			_, args, err := source.ToSql()
			Expect(err).NotTo(HaveOccurred())
			rt := model.ResourceType(args[0].(string))

			var out []model.NewJob
			for _, id := range roots[rt] {
				job, err := queue.Encode(queue.MaterializePayload{ResourceType: rt, UpstreamID: id}, 0)
				Expect(err).NotTo(HaveOccurred())
				out = append(out, job)
			}
			return out
		}

		registry := resource.NewRegistry(
			definition(model.ResourceTypePatient, "patients"),
			definition(model.ResourceTypeEncounter, "encounters"),
		)
		scanner = task.NewMissingResources(registry, resources, jobs, nil)
	})

	It("counts missing roots per resource type", func() {
		counts, err := scanner.CountQueue(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(counts).To(Equal(map[model.ResourceType]int64{
			model.ResourceTypePatient:   3,
			model.ResourceTypeEncounter: 0,
		}))
	})

	It("enqueues missing roots at low priority and leaves nothing to count", func() {
		Expect(scanner.Run(ctx)).To(Succeed())

		queued := jobs.WithStatus(model.TopicMaterialize, model.JobStatusQueued)
		Expect(queued).To(HaveLen(3))
		for _, j := range queued {
			Expect(j.Priority).To(Equal(model.PriorityLow))
		}

		counts, err := scanner.CountQueue(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(counts[model.ResourceTypePatient]).To(BeZero())
	})

	It("does not duplicate jobs already queued by the router", func() {
		job, _ := queue.Encode(queue.MaterializePayload{ResourceType: model.ResourceTypePatient, UpstreamID: "p2"}, model.PriorityDefault)
		_, _, err := jobs.Enqueue(ctx, job)
		Expect(err).NotTo(HaveOccurred())

		Expect(scanner.Run(ctx)).To(Succeed())
		Expect(jobs.WithStatus(model.TopicMaterialize, model.JobStatusQueued)).To(HaveLen(3))
	})

	It("skips types with nothing missing", func() {
		roots[model.ResourceTypePatient] = nil
		bulkCalls := 0
		jobs.BulkRows = func(model.Topic, sq.SelectBuilder) []model.NewJob {
			bulkCalls++
			return nil
		}

		Expect(scanner.Run(ctx)).To(Succeed())
		Expect(bulkCalls).To(BeZero())
	})

	It("reports count failures", func() {
		resources.Err = errors.New("connection refused")
		Expect(scanner.Run(ctx)).To(MatchError(ContainSubstring("counting missing Patient")))
	})
})
