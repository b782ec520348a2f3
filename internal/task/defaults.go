package task

import (
	"basegraph.app/materializer/core/config"
	"basegraph.app/materializer/internal/metrics"
	"basegraph.app/materializer/internal/resource"
	"basegraph.app/materializer/internal/store"
)

// Deps are what the built-in tasks run against.
type Deps struct {
	Registry  *resource.Registry
	Resources store.ResourceStore
	Jobs      store.JobStore
	Upstream  store.UpstreamStore
	Tx        TxRunner
	Metrics   *metrics.Collector
}

// RegisterDefaults registers every built-in task with r and returns the
// registration errors. A failing task never keeps the others from being
// registered.
func RegisterDefaults(r *Runner, d Deps) []error {
	ctors := map[string]Constructor{
		MissingResourcesName: func(config.ScheduleConfig) (Task, error) {
			return NewMissingResources(d.Registry, d.Resources, d.Jobs, d.Metrics), nil
		},
		OutpatientDischargerName: func(cfg config.ScheduleConfig) (Task, error) {
			return NewOutpatientDischarger(cfg, d)
		},
		DeceasedPatientDischargerName: func(cfg config.ScheduleConfig) (Task, error) {
			return NewDeceasedPatientDischarger(cfg, d)
		},
		StaleSyncSessionCleanerName: func(cfg config.ScheduleConfig) (Task, error) {
			return NewStaleSyncSessionCleaner(cfg, d)
		},
	}

	var errs []error
	for _, name := range []string{
		MissingResourcesName,
		OutpatientDischargerName,
		DeceasedPatientDischargerName,
		StaleSyncSessionCleanerName,
	} {
		if err := r.Register(name, ctors[name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
