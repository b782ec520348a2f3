package task_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/materializer/core/config"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/store/storetest"
	"basegraph.app/materializer/internal/task"
)

var _ = Describe("RegisterDefaults", func() {
	deps := func() task.Deps {
		return task.Deps{
			Registry:  resource.Default(),
			Resources: storetest.NewResourceStore(),
			Jobs:      storetest.NewJobStore(),
			Upstream:  &storetest.UpstreamStore{},
			Tx:        &fakeTx{},
		}
	}

	It("registers every built-in task from the default settings", func() {
		cfg, err := config.LoadTasks("")
		Expect(err).NotTo(HaveOccurred())

		runner := task.NewRunner(cfg, nil)
		Expect(task.RegisterDefaults(runner, deps())).To(BeEmpty())
		Expect(runner.Names()).To(ConsistOf(
			task.MissingResourcesName,
			task.OutpatientDischargerName,
			task.DeceasedPatientDischargerName,
			task.StaleSyncSessionCleanerName,
		))
	})

	It("keeps registering after one task is misconfigured", func() {
		cfg := config.TasksConfig{
			task.MissingResourcesName:     {Schedule: "48 1 * * *"},
			task.OutpatientDischargerName: {Schedule: "0 2 * * *", BatchSize: ptr(1000)},
			task.StaleSyncSessionCleanerName: {
				Schedule: "*/5 * * * *", BatchSize: ptr(100), BatchSleepMs: ptr(50),
			},
		}

		runner := task.NewRunner(cfg, nil)
		errs := task.RegisterDefaults(runner, deps())

		Expect(errs).To(HaveLen(2))
		Expect(errs[0]).To(MatchError(config.ErrMissingBatchConfig))
		Expect(errs[1]).To(MatchError(ContainSubstring("no schedule configured")))
		Expect(runner.Names()).To(ConsistOf(task.MissingResourcesName, task.StaleSyncSessionCleanerName))
	})
})
