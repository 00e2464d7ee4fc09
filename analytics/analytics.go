package analytics

import "sync"

type DataCollectorConfig struct {
	FileName      string
	CollectorType DataCollectorType
}

type DataCollectorType string

const LOG_FILE_DATA_COLLECTOR DataCollectorType = "LOG_FILE_DATA_COLLECTOR"
const NOOP_DATA_COLLECTOR DataCollectorType = "NOOP_DATA_COLLECTOR"

// ExecutionDataCollector receives one record per finished step and per
// execution reaching a terminal status.
type ExecutionDataCollector interface {
	RecordStepSuccess(wfId string, executionId string, kind string, step int, output map[string]any)
	RecordStepFailure(wfId string, executionId string, kind string, step int, reason string)
	RecordExecutionFinished(wfId string, executionId string, status string, attempts int)
	Close() error
}

var (
	mu        sync.RWMutex
	collector ExecutionDataCollector = noopCollector{}
)

func InitDataCollector(config DataCollectorConfig) error {
	switch config.CollectorType {
	case LOG_FILE_DATA_COLLECTOR:
		c, err := NewLogFileDataCollector(config.FileName)
		if err != nil {
			return err
		}
		SetCollector(c)
	default:
		SetCollector(noopCollector{})
	}
	return nil
}

// SetCollector swaps the process collector and returns the previous one.
func SetCollector(c ExecutionDataCollector) ExecutionDataCollector {
	mu.Lock()
	defer mu.Unlock()
	prev := collector
	if c == nil {
		c = noopCollector{}
	}
	collector = c
	return prev
}

func current() ExecutionDataCollector {
	mu.RLock()
	defer mu.RUnlock()
	return collector
}

func RecordStepSuccess(wfId string, executionId string, kind string, step int, output map[string]any) {
	current().RecordStepSuccess(wfId, executionId, kind, step, output)
}

func RecordStepFailure(wfId string, executionId string, kind string, step int, reason string) {
	current().RecordStepFailure(wfId, executionId, kind, step, reason)
}

func RecordExecutionFinished(wfId string, executionId string, status string, attempts int) {
	current().RecordExecutionFinished(wfId, executionId, status, attempts)
}

func Close() error {
	return current().Close()
}

type noopCollector struct{}

func (noopCollector) RecordStepSuccess(string, string, string, int, map[string]any) {}
func (noopCollector) RecordStepFailure(string, string, string, int, string) {}
func (noopCollector) RecordExecutionFinished(string, string, string, int) {}
func (noopCollector) Close() error { return nil }
