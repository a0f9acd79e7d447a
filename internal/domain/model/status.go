package model

// CanonicalState is the provider-agnostic view of an external job's progress.
// Every provider adapter translates its vendor status strings into one of
// these five values at the boundary; nothing downstream ever compares raw
// provider strings.
type CanonicalState string

const (
	CanonicalStarting   CanonicalState = "starting"
	CanonicalProcessing CanonicalState = "processing"
	CanonicalSucceeded  CanonicalState = "succeeded"
	CanonicalFailed     CanonicalState = "failed"
	CanonicalCanceled   CanonicalState = "canceled"
)

// MapProviderStatus normalizes a raw provider status string. It is total:
// unknown statuses map to a safe in-flight default per job kind, because
// providers introduce intermediate statuses without warning and an unknown
// status must never fail a live job.
func MapProviderStatus(kind JobKind, providerStatus string) CanonicalState {
	switch providerStatus {
	case "starting":
		return CanonicalStarting
	case "processing":
		return CanonicalProcessing
	case "succeeded":
		return CanonicalSucceeded
	case "failed":
		return CanonicalFailed
	case "canceled":
		return CanonicalCanceled
	}
	if kind == JobKindVideo {
		return CanonicalStarting
	}
	return CanonicalProcessing
}

func (s CanonicalState) IsTerminalSuccess() bool { return s == CanonicalSucceeded }

func (s CanonicalState) IsTerminalFailure() bool {
	return s == CanonicalFailed || s == CanonicalCanceled
}

func (s CanonicalState) IsInFlight() bool {
	return s == CanonicalStarting || s == CanonicalProcessing
}

// JobStateFor translates an in-flight canonical state into the persisted job
// state. Video jobs keep the starting/processing distinction; image jobs
// collapse both into processing.
func JobStateFor(kind JobKind, s CanonicalState) JobState {
	if kind == JobKindVideo && s == CanonicalStarting {
		return JobStateStarting
	}
	return JobStateProcessing
}
