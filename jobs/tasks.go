package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDepreciationMonthly posts one month of scheduled depreciation.
	TaskDepreciationMonthly = "ledger:depreciation:monthly"
	// TaskGLIntegrity scans posted journals for balance violations.
	TaskGLIntegrity = "ledger:gl:integrity"
)

const periodLayout = "2006-01"

// DepreciationPayload selects the month to post. An empty period means the
// month before the one the task runs in.
type DepreciationPayload struct {
	Period  string `json:"period,omitempty"`
	ActorID int64  `json:"actor_id,omitempty"`
}

// NewDepreciationTask constructs a monthly depreciation task.
func NewDepreciationTask(payload DepreciationPayload) (*asynq.Task, error) {
	if payload.Period != "" {
		if _, err := time.Parse(periodLayout, payload.Period); err != nil {
			return nil, err
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDepreciationMonthly, data), nil
}

// NewGLIntegrityTask constructs a GL integrity scan task.
func NewGLIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskGLIntegrity, nil)
}
