package engine

import "fmt"

// Stage is a pipeline state.
type Stage string

const (
	StageIdle          Stage = "Idle"
	StageValidating    Stage = "Validating"
	StageQuotaChecking Stage = "QuotaChecking"
	StageInvoking      Stage = "Invoking"
	StageParsing       Stage = "Parsing"
	StagePersisting    Stage = "Persisting"
	StageDone          Stage = "Done"
	StageFailed        Stage = "Failed"
)

// Reason is the machine-readable cause of a failed stage.
type Reason string

const (
	ReasonInsufficientContent Reason = "InsufficientContent"
	ReasonQuotaExceeded       Reason = "QuotaExceeded"
	ReasonProviderUnavailable Reason = "ProviderUnavailable"
	ReasonProviderRejected    Reason = "ProviderRejected"
	ReasonEmptyResponse       Reason = "EmptyResponse"
	ReasonPersistenceError    Reason = "PersistenceError"
	ReasonCancelled           Reason = "Cancelled"
	ReasonInvalidInput        Reason = "InvalidInput"
	// ReasonInternal covers infrastructure faults such as an unreachable quota store.
	ReasonInternal Reason = "Internal"
)

// StageError reports the stage a run failed in and why.
type StageError struct {
	Stage  Stage
	Reason Reason
	Err    error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("%s failed: %s: %v", e.Stage, e.Reason, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func fail(stage Stage, reason Reason, err error) *StageError {
	return &StageError{Stage: stage, Reason: reason, Err: err}
}
