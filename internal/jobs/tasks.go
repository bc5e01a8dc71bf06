package jobs

import "github.com/hibiken/asynq"

// Queue and task names processed by the worker.
const (
	QueueDefault = "default"

	TaskScheduleSweep = "schedule:sweep"
)

// NewScheduleSweepTask builds the periodic sweep task. The task carries no
// payload: the sweep always runs against the current clock.
func NewScheduleSweepTask() *asynq.Task {
	return asynq.NewTask(TaskScheduleSweep, nil)
}
