package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed tasks.default.yaml
var defaultTasks []byte

// ErrMissingBatchConfig is returned when a batched task is configured without
// batchSize or batchSleepMs.
var ErrMissingBatchConfig = errors.New("batchSize and batchSleepMs are required")

// ScheduleConfig is the per-task section of the tasks file.
// Numeric batch fields are pointers so that an absent key can be told apart from zero.
// TimeoutMinutes bounds one run of any task; StaleSessionMinutes is read only by
// staleSyncSessionCleaner.
type ScheduleConfig struct {
	Enabled             *bool  `yaml:"enabled"`
	Schedule            string `yaml:"schedule"`
	BatchSize           *int   `yaml:"batchSize"`
	BatchSleepMs        *int   `yaml:"batchSleepMs"`
	SuppressInitialRun  bool   `yaml:"suppressInitialRun"`
	JitterMs            int    `yaml:"jitterMs"`
	TimeoutMinutes      int    `yaml:"timeoutMinutes"`
	StaleSessionMinutes int    `yaml:"staleSessionMinutes"`
}

// TasksConfig maps task names to their schedule settings.
type TasksConfig map[string]ScheduleConfig

// IsEnabled treats a missing enabled key as enabled.
func (c ScheduleConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ValidateBatch checks the settings every batched task needs before it may query anything.
func (c ScheduleConfig) ValidateBatch() error {
	var missing []string
	if c.BatchSize == nil {
		missing = append(missing, "batchSize")
	}
	if c.BatchSleepMs == nil {
		missing = append(missing, "batchSleepMs")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMissingBatchConfig, strings.Join(missing, ", "))
	}
	if *c.BatchSize <= 0 {
		return fmt.Errorf("batchSize must be positive, got %d", *c.BatchSize)
	}
	if *c.BatchSleepMs < 0 {
		return fmt.Errorf("batchSleepMs must not be negative, got %d", *c.BatchSleepMs)
	}
	return nil
}

func (c ScheduleConfig) BatchSleep() time.Duration {
	if c.BatchSleepMs == nil {
		return 0
	}
	return time.Duration(*c.BatchSleepMs) * time.Millisecond
}

func (c ScheduleConfig) Jitter() time.Duration {
	return time.Duration(c.JitterMs) * time.Millisecond
}

// LoadTasks reads the tasks file at path, or the embedded defaults when path is empty.
func LoadTasks(path string) (TasksConfig, error) {
	data := defaultTasks
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		data = raw
	}
	return ParseTasks(data)
}

func ParseTasks(data []byte) (TasksConfig, error) {
	var tasks TasksConfig
	if err := yaml.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parsing tasks yaml: %w", err)
	}
	if tasks == nil {
		tasks = TasksConfig{}
	}
	return tasks, nil
}
