// Package recur expands task templates into calendar instances and resolves
// per-instance completion. Instances are derived on every query and never
// stored.
package recur

import (
	"github.com/charmbracelet/log"

	"dolores/internal/dateutil"
	"dolores/internal/model"
)

// CompletionSet answers whether a specific (taskID, instanceDate) occurrence
// has a completion record. The zero value of map-backed implementations
// means "nothing completed".
type CompletionSet interface {
	Completed(taskID model.TaskID, instanceDate string) bool
}

// CompletionMap is the in-memory CompletionSet used by the coordinator:
// key = taskID + "-" + instanceDate, presence = completed.
type CompletionMap map[string]bool

func (m CompletionMap) Completed(taskID model.TaskID, instanceDate string) bool {
	return m[model.InstanceKey(taskID, instanceDate)]
}

// Engine expands a set of task templates over calendar dates.
type Engine struct {
	logger *log.Logger
}

func NewEngine(logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{logger: logger}
}

// InstancesForDate returns every occurrence that falls on date.
//
// For each template exactly one of these applies:
//   - frequency none: one instance iff the template date equals date,
//     completed taken from the template row;
//   - the origin date of a recurring template: one instance, never tagged
//     as a recurring instance, completed resolved from completions;
//   - a cadence match strictly after the origin: one recurring-tagged
//     instance, completed resolved from completions.
//
// Recurrence never projects backward, and at most one instance per task is
// emitted for a given date. Templates that fail to parse are skipped with a
// warning rather than aborting the batch.
func (e *Engine) InstancesForDate(tasks []model.Task, date dateutil.Date, completions CompletionSet) []model.TaskInstance {
	dateStr := date.String()
	out := make([]model.TaskInstance, 0, len(tasks))
	emitted := map[model.TaskID]bool{}

	for _, t := range tasks {
		if emitted[t.ID] {
			continue
		}

		origin, err := dateutil.Parse(t.Date)
		if err != nil {
			e.logger.Warn("skipping task with malformed date", "task", t.ID, "date", t.Date)
			continue
		}
		freq, err := model.ParseFrequency(string(t.Frequency))
		if err != nil {
			e.logger.Warn("skipping task with unknown frequency", "task", t.ID, "frequency", t.Frequency)
			continue
		}
		if freq == model.FreqCustom && t.CustomFrequencyMonths < 1 {
			e.logger.Warn("skipping custom-frequency task without interval", "task", t.ID)
			continue
		}

		onOrigin := origin == date

		if !freq.IsRecurring() {
			if onOrigin {
				out = append(out, instance(t, dateStr, false, t.Completed))
				emitted[t.ID] = true
			}
			continue
		}

		// The origin occurrence of a recurring task is not itself tagged
		// recurring, but its completion still lives in the records.
		if onOrigin {
			out = append(out, instance(t, dateStr, false, completions != nil && completions.Completed(t.ID, dateStr)))
			emitted[t.ID] = true
			continue
		}

		if !date.After(origin) {
			continue
		}
		if !matchesCadence(freq, t.CustomFrequencyMonths, origin, date) {
			continue
		}
		out = append(out, instance(t, dateStr, true, completions != nil && completions.Completed(t.ID, dateStr)))
		emitted[t.ID] = true
	}

	return out
}

// InstancesForRange is the union of InstancesForDate over every day in
// [start, end] inclusive.
func (e *Engine) InstancesForRange(tasks []model.Task, start, end dateutil.Date, completions CompletionSet) []model.TaskInstance {
	var out []model.TaskInstance
	for _, d := range dateutil.Days(start, end) {
		out = append(out, e.InstancesForDate(tasks, d, completions)...)
	}
	return out
}

func instance(t model.Task, date string, recurring, completed bool) model.TaskInstance {
	t.Completed = completed
	return model.TaskInstance{
		Task:                t,
		InstanceDate:        date,
		IsRecurringInstance: recurring,
	}
}

// matchesCadence reports whether date (strictly after origin) is an
// occurrence of the cadence anchored at origin.
//
// Month-anchored cadences pin to the last day of short months: a template
// anchored on the 31st occurs on Feb 28 (29 in leap years), Apr 30, and so
// on. The same rule applies everywhere instances are computed, so calendar
// markers and list views always agree.
func matchesCadence(freq model.Frequency, intervalMonths int, origin, date dateutil.Date) bool {
	switch freq {
	case model.FreqDaily:
		return true
	case model.FreqWeekly:
		return origin.Weekday() == date.Weekday()
	case model.FreqMonthly:
		return monthDayMatches(origin, date)
	case model.FreqCustom:
		diff := date.MonthsSince(origin)
		return diff > 0 && diff%intervalMonths == 0 && monthDayMatches(origin, date)
	default:
		return false
	}
}

func monthDayMatches(origin, date dateutil.Date) bool {
	last := dateutil.DaysInMonth(date.Year, date.Month)
	if origin.Day > last {
		return date.Day == last
	}
	return date.Day == origin.Day
}
