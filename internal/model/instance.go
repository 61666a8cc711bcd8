package model

// TaskInstance is one concrete calendar occurrence of a task template,
// derived at query time and never persisted. Completed is resolved per
// instance: from the template row for non-recurring tasks, from completion
// records otherwise.
type TaskInstance struct {
	Task
	InstanceDate        string `json:"instanceDate"` // YYYY-MM-DD
	IsRecurringInstance bool   `json:"isRecurringInstance"`
}

// InstanceKey identifies one occurrence of one task, the same key format
// the completion-record lookup uses.
func InstanceKey(taskID TaskID, instanceDate string) string {
	return taskID + "-" + instanceDate
}
