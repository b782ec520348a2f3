package router_test

import (
	"context"
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/router"
	"basegraph.app/materializer/internal/store/storetest"
)

func discriminants(jobs []model.Job) []string {
	var out []string
	for _, j := range jobs {
		out = append(out, *j.Discriminant)
	}
	return out
}

var _ = Describe("Router", func() {
	var (
		ctx      context.Context
		jobs     *storetest.JobStore
		upstream *storetest.UpstreamStore
		r        *router.Router
		queries  []string
	)

	BeforeEach(func() {
		ctx = context.Background()
		jobs = storetest.NewJobStore()
		queries = nil
		upstream = &storetest.UpstreamStore{}
		r = router.New(resource.Default(), upstream, jobs)
	})

	// answer makes RootIDs return ids for queries containing fragment.
	answer := func(rules map[string][]string) {
		upstream.RootIDsFn = func(query sq.Sqlizer) ([]string, error) {
			sql, args, err := query.ToSql()
			Expect(err).NotTo(HaveOccurred())
			queries = append(queries, sql)
			for fragment, ids := range rules {
				if strings.Contains(sql, fragment) {
					return ids, nil
				}
			}
			// Root-table fan-out selects the row id itself.
			if sql == "SELECT ?::text AS id" {
				return []string{args[0].(string)}, nil
			}
			return nil, nil
		}
	}

	It("ignores tables no resource depends on", func() {
		answer(nil)
		res, err := r.Route(ctx, model.ChangeEvent{Table: "user_preferences", Operation: model.OperationUpdate, RowID: "u1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(router.Result{}))
		Expect(queries).To(BeEmpty())
		Expect(jobs.Jobs()).To(BeEmpty())
	})

	It("rejects malformed events", func() {
		_, err := r.Route(ctx, model.ChangeEvent{Table: "patients", Operation: "TRUNCATE", RowID: "p1"})
		Expect(err).To(HaveOccurred())
	})

	It("enqueues the root of a deleted join row, not the join row", func() {
		answer(map[string][]string{"FROM imaging_request_areas ira WHERE ira.area_id": {"req-1", "req-2"}})

		res, err := r.Route(ctx, model.ChangeEvent{
			Table:      "imaging_area_external_codes",
			Operation:  model.OperationDelete,
			RowID:      "ext-7",
			DeletedRow: map[string]any{"id": "ext-7", "area_id": "area-3", "code": "XR1"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Roots).To(Equal(2))
		Expect(res.Enqueued).To(BeEquivalentTo(2))

		queued := jobs.WithStatus(model.TopicMaterialize, model.JobStatusQueued)
		Expect(discriminants(queued)).To(ConsistOf("ServiceRequest:req-1", "ServiceRequest:req-2"))
		Expect(discriminants(queued)).NotTo(ContainElement(ContainSubstring("ext-7")))
	})

	It("collapses repeated changes into one queued job per root", func() {
		answer(nil)
		ev := model.ChangeEvent{Table: "facilities", Operation: model.OperationUpdate, RowID: "fac-1"}

		first, err := r.Route(ctx, ev)
		Expect(err).NotTo(HaveOccurred())
		second, err := r.Route(ctx, ev)
		Expect(err).NotTo(HaveOccurred())

		Expect(first.Enqueued).To(BeEquivalentTo(1))
		Expect(second.Enqueued).To(BeZero())
		Expect(discriminants(jobs.WithStatus(model.TopicMaterialize, model.JobStatusQueued))).To(Equal([]string{"Organization:fac-1"}))
	})

	It("enqueues only the dependent resource for a table its root does not own", func() {
		answer(map[string][]string{"FROM encounter_diagnoses c": {"enc-1"}})

		_, err := r.Route(ctx, model.ChangeEvent{Table: "encounter_diagnoses", Operation: model.OperationUpdate, RowID: "diag-1"})
		Expect(err).NotTo(HaveOccurred())

		queued := jobs.WithStatus(model.TopicMaterialize, model.JobStatusQueued)
		Expect(discriminants(queued)).To(Equal([]string{"EncounterReport:enc-1"}))

		payload, err := queue.Decode(queued[0].Topic, queued[0].Payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(payload).To(Equal(queue.MaterializePayload{ResourceType: model.ResourceTypeEncounterReport, UpstreamID: "enc-1"}))
	})

	It("fans a shared root table out to every resource built from it", func() {
		answer(map[string][]string{"FROM imaging_requests r WHERE r.encounter_id": {"ir-4"}})
		_, err := r.Route(ctx, model.ChangeEvent{Table: "encounters", Operation: model.OperationUpdate, RowID: "enc-9"})
		Expect(err).NotTo(HaveOccurred())
		Expect(discriminants(jobs.Jobs())).To(ConsistOf("Encounter:enc-9", "EncounterReport:enc-9", "ServiceRequest:ir-4"))
	})

	It("skips dependents it cannot locate roots for", func() {
		answer(nil)
		res, err := r.Route(ctx, model.ChangeEvent{Table: "patient_additional_data", Operation: model.OperationDelete, RowID: "pad-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Dependents).To(Equal(1))
		Expect(res.Enqueued).To(BeZero())
		Expect(queries).To(BeEmpty())
	})

	It("returns upstream errors so the change can be retried", func() {
		boom := errors.New("connection refused")
		upstream.RootIDsFn = func(sq.Sqlizer) ([]string, error) { return nil, boom }

		_, err := r.Route(ctx, model.ChangeEvent{Table: "locations", Operation: model.OperationUpdate, RowID: "loc-1"})
		Expect(errors.Is(err, boom)).To(BeTrue())
		Expect(jobs.Jobs()).To(BeEmpty())
	})

	It("uses the configured priority", func() {
		answer(nil)
		r = router.New(resource.Default(), upstream, jobs, router.WithPriority(model.PriorityLow))
		_, err := r.Route(ctx, model.ChangeEvent{Table: "patients", Operation: model.OperationUpdate, RowID: "p1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs.Jobs()[0].Priority).To(Equal(model.PriorityLow))
	})
})
