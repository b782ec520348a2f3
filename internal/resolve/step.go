package resolve

import (
	"context"
	"log/slog"

	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/store"
)

const defaultPageSize = 500

// Stats describes one resolution pass.
type Stats struct {
	Scanned   int
	Patched   int
	Resolved  int
	Conflicts int
}

// Step rewrites upstream references into references to materialized
// resources. It never rebuilds resource content, and running it with nothing
// to resolve does nothing.
type Step struct {
	resources store.ResourceStore
	registry  *resource.Registry
	pageSize  int
}

func NewStep(resources store.ResourceStore, registry *resource.Registry) *Step {
	return &Step{resources: resources, registry: registry, pageSize: defaultPageSize}
}

func (s *Step) WithPageSize(n int) *Step {
	if n > 0 {
		s.pageSize = n
	}
	return s
}

func (s *Step) Handle(ctx context.Context, _ queue.ResolvePayload) error {
	_, err := s.Run(ctx)
	return err
}

func (s *Step) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	var afterID int64
	for {
		page, err := s.resources.ListUnresolved(ctx, afterID, s.pageSize)
		if err != nil {
			return stats, err
		}
		if len(page) == 0 {
			break
		}
		if err := s.resolvePage(ctx, page, &stats); err != nil {
			return stats, err
		}
		afterID = page[len(page)-1].ID
		if len(page) < s.pageSize {
			break
		}
	}

	if stats.Scanned > 0 {
		slog.InfoContext(ctx, "resolution pass finished",
			"scanned", stats.Scanned,
			"patched", stats.Patched,
			"resolved", stats.Resolved,
			"conflicts", stats.Conflicts)
	}
	return stats, nil
}

func (s *Step) resolvePage(ctx context.Context, page []model.MaterializedResource, stats *Stats) error {
	wanted := make(map[model.ResourceType][]string)
	for _, res := range page {
		refs, err := resource.UpstreamRefs(res.Data)
		if err != nil {
			slog.WarnContext(ctx, "skipping undecodable resource", "resource_id", res.ID, "error", err)
			continue
		}
		for _, ref := range refs {
			if t, ok := s.registry.TypeForKind(ref.UpstreamKind()); ok {
				wanted[t] = append(wanted[t], ref.Reference)
			}
		}
	}

	found := make(map[model.ResourceType]map[string]int64, len(wanted))
	for t, upstreamIDs := range wanted {
		ids, err := s.resources.LookupIDs(ctx, t, upstreamIDs)
		if err != nil {
			return err
		}
		found[t] = ids
	}

	lookup := func(ref model.Reference) (model.ResourceType, int64, bool) {
		t, ok := s.registry.TypeForKind(ref.UpstreamKind())
		if !ok {
			return "", 0, false
		}
		id, ok := found[t][ref.Reference]
		return t, id, ok
	}

	for _, res := range page {
		stats.Scanned++
		data, rewritten, remaining, err := resource.RewriteRefs(res.Data, lookup)
		if err != nil {
			continue
		}

		var applied bool
		switch {
		case rewritten > 0:
			applied, err = s.resources.PatchData(ctx, res.ID, res.VersionID, data, remaining == 0)
			if applied {
				stats.Patched++
			}
		case remaining == 0:
			applied, err = s.resources.MarkResolved(ctx, res.ID, res.VersionID)
		default:
			continue
		}
		if err != nil {
			return err
		}
		if !applied {
			// Rematerialized since we read it; that run queued another pass.
			stats.Conflicts++
			continue
		}
		if remaining == 0 {
			stats.Resolved++
		}
	}
	return nil
}
