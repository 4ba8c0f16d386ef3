package core

// MetricsRecorder receives business events worth counting.
type MetricsRecorder interface {
	ObserveOperation(operation, outcome string)
	ObserveLedgerEntry(kind string, amount int)
	ObserveNotification(kind string, delivered bool)
}

type noopMetrics struct{}

func NewNoopMetrics() MetricsRecorder { return noopMetrics{} }

func (noopMetrics) ObserveOperation(string, string)  {}
func (noopMetrics) ObserveLedgerEntry(string, int)   {}
func (noopMetrics) ObserveNotification(string, bool) {}
