package task_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/materializer/core/config"
	"basegraph.app/materializer/internal/task"
)

func scheduleConfig(batchSize, sleepMs *int) config.ScheduleConfig {
	return config.ScheduleConfig{Schedule: "* * * * *", BatchSize: batchSize, BatchSleepMs: sleepMs}
}

var _ = Describe("BatchTask", func() {
	var (
		ctx    context.Context
		source *rowSource
		sleeps []time.Duration
	)

	recordSleep := func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	BeforeEach(func() {
		ctx = context.Background()
		source = &rowSource{}
		sleeps = nil
	})

	It("runs ceil(total/batchSize) batches and sleeps only between them", func() {
		source.remaining = 23
		t, err := task.NewBatchTask[int]("test", scheduleConfig(ptr(10), ptr(50)), source, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(t.WithSleep(recordSleep).Run(ctx)).To(Succeed())

		Expect(source.batches).To(HaveLen(3))
		Expect(source.batches[0]).To(HaveLen(10))
		Expect(source.batches[1]).To(HaveLen(10))
		Expect(source.batches[2]).To(HaveLen(3))
		Expect(sleeps).To(Equal([]time.Duration{50 * time.Millisecond, 50 * time.Millisecond}))
		Expect(source.countCalls).To(Equal(1))
	})

	It("does nothing when no rows match", func() {
		t, err := task.NewBatchTask[int]("test", scheduleConfig(ptr(10), ptr(50)), source, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(t.WithSleep(recordSleep).Run(ctx)).To(Succeed())
		Expect(source.findCalls).To(BeZero())
		Expect(sleeps).To(BeEmpty())
	})

	DescribeTable("rejects missing batch settings before any query",
		func(cfg config.ScheduleConfig, missing string) {
			_, err := task.NewBatchTask[int]("test", cfg, source, nil)

			var cfgErr *task.ConfigurationError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
			Expect(cfgErr.Task).To(Equal("test"))
			Expect(errors.Is(err, config.ErrMissingBatchConfig)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring(missing))
			Expect(source.countCalls).To(BeZero())
		},
		Entry("batchSize", scheduleConfig(nil, ptr(50)), "batchSize"),
		Entry("batchSleepMs", scheduleConfig(ptr(10), nil), "batchSleepMs"),
		Entry("both", scheduleConfig(nil, nil), "batchSize, batchSleepMs"),
	)

	It("stops early when the predicate drains before the counted total", func() {
		source.remaining = 25
		source.onProcess = func() { source.remaining = 0 }
		t, _ := task.NewBatchTask[int]("test", scheduleConfig(ptr(10), ptr(0)), source, nil)

		Expect(t.WithSleep(recordSleep).Run(ctx)).To(Succeed())
		Expect(source.batches).To(HaveLen(1))
		Expect(source.findCalls).To(Equal(2))
	})

	It("finishes the current batch and stops when cancelled", func() {
		ctx, cancel := context.WithCancel(ctx)
		source.remaining = 30
		source.onProcess = cancel
		t, _ := task.NewBatchTask[int]("test", scheduleConfig(ptr(10), ptr(0)), source, nil)

		err := t.Run(ctx)
		Expect(err).To(MatchError(context.Canceled))
		Expect(source.batches).To(HaveLen(1))
		Expect(source.remaining).To(Equal(20))
	})

	It("aborts on a processing error", func() {
		source.remaining = 5
		source.processErr = errors.New("upstream write failed")
		t, _ := task.NewBatchTask[int]("test", scheduleConfig(ptr(10), ptr(0)), source, nil)

		Expect(t.Run(ctx)).To(MatchError(ContainSubstring("batch 1 of 1: upstream write failed")))
	})
})
