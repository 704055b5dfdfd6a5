package tasks

import (
	"time"

	"github.com/angelmondragon/p2pex-backend/pkg/enums"
)

// oneTimeWindow is the single window every one-time task completes in.
var oneTimeWindow = time.Unix(0, 0).UTC()

// WindowStart returns the start of the completion window containing now,
// computed in loc and returned in UTC. Weeks start on Sunday.
func WindowStart(taskType enums.TaskType, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	switch taskType {
	case enums.TaskTypeDaily:
		return midnight.UTC()
	case enums.TaskTypeWeekly:
		return midnight.AddDate(0, 0, -int(local.Weekday())).UTC()
	case enums.TaskTypeMonthly:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc).UTC()
	default:
		return oneTimeWindow
	}
}

// nextWindow returns when the window starting at start closes. One-time
// windows never close and report the zero time.
func nextWindow(taskType enums.TaskType, start time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := start.In(loc)
	switch taskType {
	case enums.TaskTypeDaily:
		return local.AddDate(0, 0, 1).UTC()
	case enums.TaskTypeWeekly:
		return local.AddDate(0, 0, 7).UTC()
	case enums.TaskTypeMonthly:
		return local.AddDate(0, 1, 0).UTC()
	default:
		return time.Time{}
	}
}
