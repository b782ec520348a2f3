package config_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/materializer/core/config"
)

var _ = Describe("Tasks config", func() {
	It("loads the embedded defaults", func() {
		tasks, err := config.LoadTasks("")
		Expect(err).NotTo(HaveOccurred())
		Expect(tasks).To(HaveKey("missingResources"))

		discharger := tasks["outpatientDischarger"]
		Expect(discharger.Schedule).To(Equal("0 2 * * *"))
		Expect(discharger.ValidateBatch()).To(Succeed())
		Expect(*discharger.BatchSize).To(Equal(1000))
		Expect(discharger.BatchSleep()).To(Equal(50 * time.Millisecond))
	})

	It("keeps the stale session threshold apart from the run timeout", func() {
		tasks, err := config.LoadTasks("")
		Expect(err).NotTo(HaveOccurred())

		cleaner := tasks["staleSyncSessionCleaner"]
		Expect(cleaner.StaleSessionMinutes).To(Equal(10))
		Expect(cleaner.TimeoutMinutes).To(BeZero())
	})

	It("treats an absent enabled key as enabled", func() {
		tasks, err := config.ParseTasks([]byte("cleaner:\n  schedule: \"* * * * *\"\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(tasks["cleaner"].IsEnabled()).To(BeTrue())

		tasks, err = config.ParseTasks([]byte("cleaner:\n  enabled: false\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(tasks["cleaner"].IsEnabled()).To(BeFalse())
	})

	Context("when batch settings are missing", func() {
		It("reports batchSize", func() {
			tasks, err := config.ParseTasks([]byte("cleaner:\n  batchSleepMs: 10\n"))
			Expect(err).NotTo(HaveOccurred())

			err = tasks["cleaner"].ValidateBatch()
			Expect(errors.Is(err, config.ErrMissingBatchConfig)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("batchSize"))
			Expect(err.Error()).NotTo(ContainSubstring("batchSleepMs"))
		})

		It("reports both when neither is set", func() {
			err := config.ScheduleConfig{Schedule: "* * * * *"}.ValidateBatch()
			Expect(errors.Is(err, config.ErrMissingBatchConfig)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("batchSize, batchSleepMs"))
		})
	})

	It("accepts an explicit zero sleep", func() {
		tasks, err := config.ParseTasks([]byte("cleaner:\n  batchSize: 5\n  batchSleepMs: 0\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(tasks["cleaner"].ValidateBatch()).To(Succeed())
	})

	It("rejects a non-positive batch size", func() {
		tasks, err := config.ParseTasks([]byte("cleaner:\n  batchSize: 0\n  batchSleepMs: 0\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(tasks["cleaner"].ValidateBatch()).To(MatchError(ContainSubstring("batchSize must be positive")))
	})
})

var _ = Describe("WorkerConfig", func() {
	valid := func() config.WorkerConfig {
		return config.WorkerConfig{
			Concurrency: 2,
			Topics:      []string{"materialize"},
			Lease:       time.Minute,
			JobTimeout:  30 * time.Second,
			MaxAttempts: 3,
		}
	}

	It("accepts a job timeout shorter than the lease", func() {
		Expect(valid().Validate()).To(Succeed())
	})

	It("rejects a job timeout that could outlive the lease", func() {
		cfg := valid()
		cfg.JobTimeout = time.Minute
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("must be shorter than WORKER_LEASE")))
	})

	It("rejects zero concurrency", func() {
		cfg := valid()
		cfg.Concurrency = 0
		Expect(cfg.Validate()).To(HaveOccurred())
	})
})
