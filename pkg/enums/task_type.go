package enums

import "fmt"

// TaskType controls how often a task may be completed.
type TaskType string

const (
	TaskTypeDaily   TaskType = "daily"
	TaskTypeWeekly  TaskType = "weekly"
	TaskTypeMonthly TaskType = "monthly"
	TaskTypeOneTime TaskType = "one_time"
)

var validTaskTypes = []TaskType{
	TaskTypeDaily,
	TaskTypeWeekly,
	TaskTypeMonthly,
	TaskTypeOneTime,
}

// IsValid reports whether the value is a known TaskType.
func (t TaskType) IsValid() bool {
	for _, candidate := range validTaskTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTaskType converts raw input into a TaskType.
func ParseTaskType(value string) (TaskType, error) {
	for _, candidate := range validTaskTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid task type %q", value)
}
