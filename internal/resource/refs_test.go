package resource_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/resource"
)

var _ = Describe("References", func() {
	const doc = `{
		"resourceType": "EncounterReport",
		"encounter": {"type": "upstream://encounter", "reference": "e1"},
		"subject": {"type": "upstream://patient", "reference": "p1"},
		"diagnosis": [{"code": {"code": "A01", "display": "Typhoid"}}]
	}`

	It("collects unresolved references at any depth", func() {
		refs, err := resource.UpstreamRefs(json.RawMessage(doc))
		Expect(err).NotTo(HaveOccurred())
		Expect(refs).To(ConsistOf(
			model.Reference{Type: "upstream://encounter", Reference: "e1"},
			model.Reference{Type: "upstream://patient", Reference: "p1"},
		))
	})

	It("rewrites only the references that resolve", func() {
		out, rewritten, remaining, err := resource.RewriteRefs(json.RawMessage(doc), func(ref model.Reference) (model.ResourceType, int64, bool) {
			if ref.UpstreamKind() == "patient" {
				return model.ResourceTypePatient, 42, true
			}
			return "", 0, false
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(rewritten).To(Equal(1))
		Expect(remaining).To(Equal(1))

		var decoded map[string]any
		Expect(json.Unmarshal(out, &decoded)).To(Succeed())
		Expect(decoded["subject"]).To(Equal(map[string]any{"type": "Patient", "reference": "Patient/42"}))
		Expect(decoded["encounter"]).To(Equal(map[string]any{"type": "upstream://encounter", "reference": "e1"}))
	})

	It("returns the input untouched when nothing resolves", func() {
		in := json.RawMessage(doc)
		out, rewritten, remaining, err := resource.RewriteRefs(in, func(model.Reference) (model.ResourceType, int64, bool) {
			return "", 0, false
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(rewritten).To(BeZero())
		Expect(remaining).To(Equal(2))
		Expect(out).To(Equal(in))
	})

	It("ignores already resolved references", func() {
		refs, err := resource.UpstreamRefs(json.RawMessage(`{"subject": {"type": "Patient", "reference": "Patient/7"}}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(refs).To(BeEmpty())
	})
})
