package resolve_test

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/resolve"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/store"
	"basegraph.app/materializer/internal/store/storetest"
)

var _ = Describe("Trigger", func() {
	It("keeps a single resolution job queued however often it is requested", func() {
		ctx := context.Background()
		jobs := storetest.NewJobStore()
		trigger := resolve.NewTrigger(jobs, nil)

		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(trigger.Request(ctx)).To(Succeed())
			}()
		}
		wg.Wait()
		Expect(trigger.Request(ctx)).To(Succeed())

		queued := jobs.WithStatus(model.TopicResolve, model.JobStatusQueued)
		Expect(queued).To(HaveLen(1))
		Expect(*queued[0].Discriminant).To(Equal(queue.ResolveDiscriminant))
		Expect(queued[0].Priority).To(Equal(model.PriorityLow))
	})

	It("queues a new pass once the pending one has been claimed", func() {
		ctx := context.Background()
		jobs := storetest.NewJobStore()
		trigger := resolve.NewTrigger(jobs, nil)

		Expect(trigger.Request(ctx)).To(Succeed())
		Expect(jobs.Claim(ctx, store.ClaimParams{
			Topics:   []model.Topic{model.TopicResolve},
			WorkerID: "w1",
			Lease:    time.Minute,
		})).To(HaveLen(1))
		Expect(trigger.Request(ctx)).To(Succeed())

		Expect(jobs.WithStatus(model.TopicResolve, model.JobStatusQueued)).To(HaveLen(1))
		Expect(jobs.WithStatus(model.TopicResolve, model.JobStatusClaimed)).To(HaveLen(1))
	})
})

var _ = Describe("Step", func() {
	var (
		ctx       context.Context
		resources *storetest.ResourceStore
		step      *resolve.Step
	)

	upsert := func(t model.ResourceType, id, doc string) *model.MaterializedResource {
		refs, err := resource.UpstreamRefs(json.RawMessage(doc))
		Expect(err).NotTo(HaveOccurred())
		res, err := resources.Upsert(ctx, t, id, json.RawMessage(doc), len(refs) == 0)
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	BeforeEach(func() {
		ctx = context.Background()
		resources = storetest.NewResourceStore()
		step = resolve.NewStep(resources, resource.Default()).WithPageSize(2)
	})

	It("does nothing when everything is resolved", func() {
		upsert(model.ResourceTypeOrganization, "fac-1", `{"name":"Central"}`)
		stats, err := step.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats).To(Equal(resolve.Stats{}))
	})

	It("rewrites references whose target exists and bumps the version", func() {
		patient := upsert(model.ResourceTypePatient, "p1", `{"name":"Ana"}`)
		enc := upsert(model.ResourceTypeEncounter, "e1", `{"subject":{"type":"upstream://patient","reference":"p1"}}`)

		stats, err := step.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Patched).To(Equal(1))
		Expect(stats.Resolved).To(Equal(1))

		row, err := resources.Get(ctx, model.ResourceTypeEncounter, "e1")
		Expect(err).NotTo(HaveOccurred())
		Expect(row.Resolved).To(BeTrue())
		Expect(row.VersionID).To(Equal(enc.VersionID + 1))
		Expect(row.Data).To(MatchJSON(`{"subject":{"type":"Patient","reference":"Patient/` + strconv.FormatInt(patient.ID, 10) + `"}}`))
	})

	It("keeps partially resolved resources pending", func() {
		upsert(model.ResourceTypePatient, "p1", `{}`)
		upsert(model.ResourceTypeEncounterReport, "e1", `{
			"subject":{"type":"upstream://patient","reference":"p1"},
			"encounter":{"type":"upstream://encounter","reference":"e1"}}`)

		stats, err := step.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Patched).To(Equal(1))
		Expect(stats.Resolved).To(BeZero())

		row, _ := resources.Get(ctx, model.ResourceTypeEncounterReport, "e1")
		Expect(row.Resolved).To(BeFalse())

		upsert(model.ResourceTypeEncounter, "e1", `{}`)
		stats, err = step.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Resolved).To(Equal(1))
	})

	It("pages through more rows than fit in one page", func() {
		upsert(model.ResourceTypePatient, "p1", `{}`)
		for _, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
			upsert(model.ResourceTypeEncounter, id, `{"subject":{"type":"upstream://patient","reference":"p1"}}`)
		}

		stats, err := step.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Scanned).To(Equal(5))
		Expect(stats.Resolved).To(Equal(5))
	})

	It("leaves references to unknown kinds alone", func() {
		upsert(model.ResourceTypeEncounter, "e1", `{"participant":{"type":"upstream://practitioner","reference":"u1"}}`)
		stats, err := step.Run(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Scanned).To(Equal(1))
		Expect(stats.Patched).To(BeZero())
	})
})
