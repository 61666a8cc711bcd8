package app

import (
	"fmt"
	"strings"
	"time"

	"dolores/internal/dateutil"
	"dolores/internal/model"
)

// BuildTaskCalendarICS renders a task as a single iCalendar event anchored
// on its date, with the recurrence cadence expressed as an RRULE.
func BuildTaskCalendarICS(t model.Task, now time.Time) (string, error) {
	start, err := dateutil.Parse(t.Date)
	if err != nil {
		return "", err
	}
	end := start.AddDays(1)

	title := strings.TrimSpace(t.Title)
	if title == "" {
		title = "Tarefa"
	}
	desc := strings.TrimSpace(t.Description)

	uid := fmt.Sprintf("task-%s@dolores", strings.TrimSpace(string(t.ID)))
	if strings.TrimSpace(string(t.ID)) == "" {
		uid = fmt.Sprintf("task-export-%d@dolores", now.UnixNano())
	}

	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Dolores//Task Export//EN",
		"CALSCALE:GREGORIAN",
		"METHOD:PUBLISH",
		"BEGIN:VEVENT",
		"UID:" + escapeICSText(uid),
		"DTSTAMP:" + now.UTC().Format("20060102T150405Z"),
		"SUMMARY:" + escapeICSText(title),
		"DTSTART;VALUE=DATE:" + icsDate(start),
		"DTEND;VALUE=DATE:" + icsDate(end),
	}
	if desc != "" {
		lines = append(lines, "DESCRIPTION:"+escapeICSText(desc))
	}
	if rrule := frequencyToRRULE(t.Frequency, t.CustomFrequencyMonths); rrule != "" {
		lines = append(lines, "RRULE:"+rrule)
	}
	lines = append(lines, "END:VEVENT", "END:VCALENDAR", "")

	return strings.Join(lines, "\r\n"), nil
}

func icsDate(d dateutil.Date) string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, d.Month, d.Day)
}

func frequencyToRRULE(f model.Frequency, intervalMonths int) string {
	switch f {
	case model.FreqDaily:
		return "FREQ=DAILY"
	case model.FreqWeekly:
		return "FREQ=WEEKLY"
	case model.FreqMonthly:
		return "FREQ=MONTHLY"
	case model.FreqCustom:
		if intervalMonths <= 0 {
			intervalMonths = 1
		}
		return fmt.Sprintf("FREQ=MONTHLY;INTERVAL=%d", intervalMonths)
	default:
		return ""
	}
}

func escapeICSText(s string) string {
	repl := strings.NewReplacer(
		"\\", "\\\\",
		";", "\\;",
		",", "\\,",
		"\r\n", "\\n",
		"\n", "\\n",
		"\r", "\\n",
	)
	return repl.Replace(s)
}
