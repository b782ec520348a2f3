package logger_test

import (
	"bytes"
	"context"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/materializer/common/logger"
)

var _ = Describe("LogFields", func() {
	It("merges newer values over older ones", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			Topic:     logger.Ptr("materialize"),
			Component: "materializer.worker",
		})
		ctx = logger.WithLogFields(ctx, logger.LogFields{
			JobID:        logger.Ptr(int64(42)),
			ResourceType: logger.Ptr("Encounter"),
		})

		fields := logger.GetLogFields(ctx)
		Expect(*fields.Topic).To(Equal("materialize"))
		Expect(*fields.JobID).To(Equal(int64(42)))
		Expect(*fields.ResourceType).To(Equal("Encounter"))
		Expect(fields.Component).To(Equal("materializer.worker"))
	})

	It("returns empty fields for a bare context", func() {
		Expect(logger.GetLogFields(context.Background())).To(Equal(logger.LogFields{}))
	})

	It("truncates long values", func() {
		Expect(logger.Truncate("abcdef", 3)).To(Equal("abc..."))
		Expect(logger.Truncate("abc", 3)).To(Equal("abc"))
	})
})

var _ = Describe("TraceHandler", func() {
	It("adds context fields to every record", func() {
		var buf bytes.Buffer
		log := slog.New(logger.NewTraceHandler(slog.NewTextHandler(&buf, nil)))

		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			JobID:       logger.Ptr(int64(7)),
			UpstreamID:  logger.Ptr("enc-1"),
			ChangeTable: logger.Ptr("encounters"),
			Task:        logger.Ptr("missingResources"),
		})
		log.InfoContext(ctx, "materialized")

		out := buf.String()
		Expect(out).To(ContainSubstring("job_id=7"))
		Expect(out).To(ContainSubstring("upstream_id=enc-1"))
		Expect(out).To(ContainSubstring("change_table=encounters"))
		Expect(out).To(ContainSubstring("task=missingResources"))
		Expect(out).NotTo(ContainSubstring("trace_id"))
	})
})
