package constants

// AttemptOutcome is the terminal result stored on every extraction_attempts row.
type AttemptOutcome string

// Stable values (store these exact strings in DB).
const (
	OutcomeSucceeded        AttemptOutcome = "SUCCEEDED"
	OutcomeValidationFailed AttemptOutcome = "VALIDATION_FAILED"
	OutcomeTransportFailed  AttemptOutcome = "TRANSPORT_FAILED"
	OutcomeAbandoned        AttemptOutcome = "ABANDONED"
	// OutcomeEmitFailed marks a valid output whose record could not be stored.
	OutcomeEmitFailed AttemptOutcome = "EMIT_FAILED"
)

// ExtractionState is the orchestrator state of one (case, schema) pair.
type ExtractionState string

const (
	StatePending    ExtractionState = "PENDING"
	StateInFlight   ExtractionState = "IN_FLIGHT"
	StateValidating ExtractionState = "VALIDATING"
	StateRetrying   ExtractionState = "RETRYING"
	StateSucceeded  ExtractionState = "SUCCEEDED"
	StateFailed     ExtractionState = "FAILED"
)

// RecordSource tells where a structured record came from.
type RecordSource string

const (
	SourceExtraction RecordSource = "extraction"
	SourceSheet      RecordSource = "sheet"
)
