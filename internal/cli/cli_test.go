package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/materializer/internal/cli"
	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/service"
)

var _ = Describe("matctl", func() {
	var (
		ops       *mockOpsService
		ranTask   string
		connected int
	)

	run := func(args ...string) (string, error) {
		cmd := cli.NewRootCommand(func(context.Context) (*cli.Deps, error) {
			connected++
			return &cli.Deps{
				Ops: ops,
				RunTask: func(_ context.Context, name string) error {
					ranTask = name
					return nil
				},
			}, nil
		})
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.ExecuteContext(context.Background())
		return out.String(), err
	}

	BeforeEach(func() {
		ops = &mockOpsService{}
		ranTask = ""
		connected = 0
	})

	It("prints queue stats as a table", func() {
		ops.queueStatsFn = func(context.Context) ([]model.TopicStats, error) {
			return []model.TopicStats{{Topic: model.TopicMaterialize, Queued: 12, Claimed: 2}}, nil
		}

		out, err := run("stats")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("TOPIC"))
		Expect(out).To(MatchRegexp(`materialize\s+12\s+2\s+0`))
	})

	It("prints counts as json", func() {
		ops.countMissingFn = func(context.Context) (map[model.ResourceType]int64, error) {
			return map[model.ResourceType]int64{model.ResourceTypePatient: 4}, nil
		}

		out, err := run("count-missing", "--format", "json")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(MatchJSON(`{"Patient":4}`))
	})

	It("totals reconciled resources in sorted order", func() {
		ops.reconcileFn = func(context.Context) (map[model.ResourceType]int64, error) {
			return map[model.ResourceType]int64{model.ResourceTypePatient: 4, model.ResourceTypeEncounter: 1}, nil
		}

		out, err := run("reconcile")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(MatchRegexp(`(?s)Encounter\s+1.*Patient\s+4.*total\s+5`))
	})

	It("backfills the named resource type", func() {
		var got model.ResourceType
		ops.backfillFn = func(_ context.Context, rt model.ResourceType) (*service.BackfillResult, error) {
			got = rt
			return &service.BackfillResult{ResourceType: rt, Roots: 30, Enqueued: 28}, nil
		}

		out, err := run("backfill", "Encounter")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(model.ResourceTypeEncounter))
		Expect(out).To(ContainSubstring("Encounter: 30 roots, 28 jobs enqueued"))
	})

	It("reports an already queued resource", func() {
		ops.enqueueFn = func(context.Context, model.ResourceType, string) (bool, error) {
			return false, nil
		}

		out, err := run("enqueue", "Patient", "p1")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Patient:p1 is already queued"))
	})

	It("prints a resource as json", func() {
		ops.getResourceFn = func(_ context.Context, rt model.ResourceType, id string) (*model.MaterializedResource, error) {
			return &model.MaterializedResource{
				ID: 3, ResourceType: rt, UpstreamID: id, VersionID: 2,
				Data: json.RawMessage(`{"resourceType":"Patient"}`), LastUpdated: time.Unix(0, 0).UTC(),
			}, nil
		}

		out, err := run("get", "Patient", "p1", "--format", "json")
		Expect(err).NotTo(HaveOccurred())
		var res map[string]any
		Expect(json.Unmarshal([]byte(out), &res)).To(Succeed())
		Expect(res["version_id"]).To(BeNumerically("==", 2))
	})

	It("passes the topic filter to retry-failed", func() {
		var got *model.Topic
		ops.retryFailedFn = func(_ context.Context, topic *model.Topic) (int64, error) {
			got = topic
			return 7, nil
		}

		out, err := run("retry-failed", "--topic", "materialize")
		Expect(err).NotTo(HaveOccurred())
		Expect(*got).To(Equal(model.TopicMaterialize))
		Expect(out).To(ContainSubstring("requeued 7 jobs"))
	})

	It("retries every topic without a filter", func() {
		called := false
		ops.retryFailedFn = func(_ context.Context, topic *model.Topic) (int64, error) {
			called = true
			Expect(topic).To(BeNil())
			return 0, nil
		}

		_, err := run("retry-failed")
		Expect(err).NotTo(HaveOccurred())
		Expect(called).To(BeTrue())
	})

	It("runs a scheduled task by name", func() {
		_, err := run("run-task", "missingResources")
		Expect(err).NotTo(HaveOccurred())
		Expect(ranTask).To(Equal("missingResources"))
	})

	It("requests resolution", func() {
		out, err := run("resolve")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("resolution requested"))
	})

	It("returns service errors", func() {
		ops.resolveFn = func(context.Context) error { return errors.New("db down") }

		_, err := run("resolve")
		Expect(err).To(MatchError("db down"))
	})

	It("rejects an unknown format before connecting", func() {
		_, err := run("stats", "--format", "yaml")
		Expect(err).To(MatchError(ContainSubstring("invalid format")))
		Expect(connected).To(BeZero())
	})

	It("rejects missing arguments before connecting", func() {
		_, err := run("backfill")
		Expect(err).To(HaveOccurred())
		Expect(connected).To(BeZero())
	})
})
