package domain

import "errors"

// StageStatus represents the tri-state progress flag of a pipeline stage
// for a tracked entity. A stage is either never attempted, succeeded, or
// failed. Failed is sticky: the engine never retries a failed stage on its
// own, only an explicit user action does.
type StageStatus string

// Possible stage status values
const (
	StageUnset     StageStatus = ""
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
)

// ErrInvalidStageStatus is returned when a stage status is not one of the
// three recognized values.
var ErrInvalidStageStatus = errors.New("invalid stage status")

// IsValid reports whether the status is one of the three recognized values.
func (s StageStatus) IsValid() bool {
	switch s {
	case StageUnset, StageSucceeded, StageFailed:
		return true
	default:
		return false
	}
}

// Stage identifies one phase of the enrichment pipeline.
type Stage string

// Pipeline stages, in dependency order. Fetch is implicit: an entity only
// exists once its content has been fetched, so the first tracked stage is
// media processing for articles and indexing for repositories.
const (
	StageMedia Stage = "media"
	StageIndex Stage = "index"
	StageLinks Stage = "links"
)

// ErrUnknownStage is returned when a stage name is not recognized.
var ErrUnknownStage = errors.New("unknown pipeline stage")

// Prerequisite returns the stage that must have succeeded before this
// stage may start. The boolean is false for the first stage of a chain.
func (s Stage) Prerequisite() (Stage, bool) {
	switch s {
	case StageIndex:
		return StageMedia, true
	case StageLinks:
		return StageIndex, true
	default:
		return "", false
	}
}
