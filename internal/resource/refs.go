package resource

import (
	"encoding/json"
	"fmt"
	"strconv"

	"basegraph.app/materializer/internal/model"
)

// UpstreamRefs returns every unresolved reference inside data.
func UpstreamRefs(data json.RawMessage) ([]model.Reference, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding resource data: %w", err)
	}

	var refs []model.Reference
	walkRefs(doc, func(obj map[string]any, ref model.Reference) {
		refs = append(refs, ref)
	})
	return refs, nil
}

// ResolveFunc returns the materialized id for an upstream reference, or false
// if the target has not been materialized yet.
type ResolveFunc func(ref model.Reference) (model.ResourceType, int64, bool)

// RewriteRefs replaces the upstream references that lookup can resolve.
// It reports how many were rewritten and how many are still unresolved.
func RewriteRefs(data json.RawMessage, lookup ResolveFunc) (json.RawMessage, int, int, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, 0, fmt.Errorf("decoding resource data: %w", err)
	}

	var rewritten, remaining int
	walkRefs(doc, func(obj map[string]any, ref model.Reference) {
		resourceType, id, ok := lookup(ref)
		if !ok {
			remaining++
			return
		}
		obj["type"] = string(resourceType)
		obj["reference"] = string(resourceType) + "/" + strconv.FormatInt(id, 10)
		rewritten++
	})
	if rewritten == 0 {
		return data, 0, remaining, nil
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encoding resource data: %w", err)
	}
	return out, rewritten, remaining, nil
}

func walkRefs(node any, visit func(obj map[string]any, ref model.Reference)) {
	switch v := node.(type) {
	case map[string]any:
		if ref, ok := asUpstreamRef(v); ok {
			visit(v, ref)
			return
		}
		for _, child := range v {
			walkRefs(child, visit)
		}
	case []any:
		for _, child := range v {
			walkRefs(child, visit)
		}
	}
}

func asUpstreamRef(obj map[string]any) (model.Reference, bool) {
	typ, ok := obj["type"].(string)
	if !ok {
		return model.Reference{}, false
	}
	reference, ok := obj["reference"].(string)
	if !ok {
		return model.Reference{}, false
	}
	ref := model.Reference{Type: typ, Reference: reference}
	if display, ok := obj["display"].(string); ok {
		ref.Display = display
	}
	return ref, ref.IsUpstream()
}
