package drive

import "time"

// Operation outcomes reported to a Recorder.
const (
	OutcomeOK         = "ok"
	OutcomeError      = "error"
	OutcomeRolledBack = "rolled_back"
)

// Recorder receives service-level measurements.
type Recorder interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
	Rollback(op string, succeeded bool)
	OrphanedBytes(op string)
	Inconsistency(op string)
	ThumbnailFailure()
}

// NopRecorder discards all measurements.
type NopRecorder struct{}

func (NopRecorder) ObserveOperation(string, string, time.Duration) {}
func (NopRecorder) Rollback(string, bool)                          {}
func (NopRecorder) OrphanedBytes(string)                           {}
func (NopRecorder) Inconsistency(string)                           {}
func (NopRecorder) ThumbnailFailure()                              {}
