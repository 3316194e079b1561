package pipeline

import (
	"fmt"
	"time"

	"ferry/internal/domain/job"
)

// Stage is a pipeline state. Stages are reached strictly in declaration
// order.
type Stage string

const (
	StageInit                   Stage = "init"
	StageSourceAnalysisWritten  Stage = "source_analysis_written"
	StageTargetAnalysisWritten  Stage = "target_analysis_written"
	StageMigrationPromptWritten Stage = "migration_prompt_written"
	StageAgentInvoked           Stage = "agent_invoked"
	StageDone                   Stage = "done"
)

// Artifacts records the scratch files of a run and the agent output.
type Artifacts struct {
	SourceAnalysisPrompt string
	TargetAnalysisPrompt string
	MigrationPrompt      string
	AgentOutput          string
}

// Run is the transient record of one job execution.
type Run struct {
	ID         string
	Job        job.SyncJob
	Stage      Stage
	StartedAt  time.Time
	FinishedAt time.Time
	Artifacts  Artifacts
	// Err is nil on success, otherwise a *StageError.
	Err error
}

// Succeeded reports whether the run reached StageDone.
func (r *Run) Succeeded() bool {
	return r != nil && r.Err == nil && r.Stage == StageDone
}

// Duration is the wall-clock time of the run.
func (r *Run) Duration() time.Duration {
	if r == nil || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StageError is the terminal failure of a run: the stage that was being
// entered and the underlying cause.
type StageError struct {
	Stage Stage
	Job   string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("job %s failed at %s: %v", e.Job, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// BatchReport summarizes one pass over a job list.
type BatchReport struct {
	Total     int
	Completed int
	Runs      []*Run
	// Err wraps the first failure, nil when every job completed.
	Err error
}

// Summary renders "N of M jobs completed".
func (b BatchReport) Summary() string {
	return fmt.Sprintf("%d of %d jobs completed", b.Completed, b.Total)
}

// Succeeded reports whether every job completed.
func (b BatchReport) Succeeded() bool {
	return b.Err == nil && b.Completed == b.Total
}
