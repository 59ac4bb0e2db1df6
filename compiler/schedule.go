package compiler

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/liamcoop/automations/rules"
)

// TimeOfDay is an hour (0-23) and minute (0-59)
type TimeOfDay struct {
	Hour   int
	Minute int
}

var (
	clockTimeRe    = regexp.MustCompile(`^(\d{1,2}):(\d{2})\s*(am|pm)?`)
	meridiemTimeRe = regexp.MustCompile(`^(\d{1,2})\s*(am|pm)`)
	bareHourRe     = regexp.MustCompile(`^(\d{1,2})$`)

	everyHoursRe   = regexp.MustCompile(`\bevery\s+(\d+)\s+hour`)
	everyMinutesRe = regexp.MustCompile(`\bevery\s+(\d+)\s+minute`)
	dailyRe        = regexp.MustCompile(`\bdaily\b|\bevery\s+day\b`)
	atTimeRe       = regexp.MustCompile(`\bat\s+(\d{1,2}(?::\d{2})?\s*(?:am|pm)?)`)
	anyTimeRe      = regexp.MustCompile(`\b\d{1,2}(?::\d{2})?\s*(?:am|pm)\b`)
)

// Weekday names in Monday..Sunday order; the first match wins
var weekdays = []struct {
	day     int
	pattern *regexp.Regexp
}{
	{0, regexp.MustCompile(`\b(?:monday|mon)s?\b`)},
	{1, regexp.MustCompile(`\b(?:tuesday|tues|tue)s?\b`)},
	{2, regexp.MustCompile(`\b(?:wednesday|wed)s?\b`)},
	{3, regexp.MustCompile(`\b(?:thursday|thurs|thu)s?\b`)},
	{4, regexp.MustCompile(`\b(?:friday|fri)s?\b`)},
	{5, regexp.MustCompile(`\b(?:saturday|sat)s?\b`)},
	{6, regexp.MustCompile(`\b(?:sunday|sun)s?\b`)},
}

// Schedule rules that name a day but no time run at 09:00
const defaultHour = 9

// ParseTime reads "9am", "2:30pm", "12am" or a bare 24-hour "14" / "14:00".
func ParseTime(text string) (TimeOfDay, bool) {
	text = strings.ToLower(strings.TrimSpace(text))

	if m := clockTimeRe.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if minute > 59 {
			return TimeOfDay{}, false
		}
		if m[3] == "" {
			if hour > 23 {
				return TimeOfDay{}, false
			}
			return TimeOfDay{Hour: hour, Minute: minute}, true
		}
		hour, ok := to24Hour(hour, m[3])
		return TimeOfDay{Hour: hour, Minute: minute}, ok
	}

	if m := meridiemTimeRe.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		hour, ok := to24Hour(hour, m[2])
		return TimeOfDay{Hour: hour}, ok
	}

	if m := bareHourRe.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		if hour <= 23 {
			return TimeOfDay{Hour: hour}, true
		}
	}

	return TimeOfDay{}, false
}

func to24Hour(hour int, meridiem string) (int, bool) {
	if hour < 1 || hour > 12 {
		return 0, false
	}
	switch {
	case meridiem == "pm" && hour < 12:
		return hour + 12, true
	case meridiem == "am" && hour == 12:
		return 0, true
	}
	return hour, true
}

// ParseSchedule turns a sentence into an interval or a cron-like schedule.
// It returns false when the sentence carries neither.
func ParseSchedule(text string) (*rules.ScheduleConfig, bool) {
	lower := strings.ToLower(text)
	cfg := &rules.ScheduleConfig{Description: strings.TrimSpace(text)}

	if n, ok := firstInt(everyHoursRe, lower); ok {
		cfg.IntervalHours = &n
		return cfg, true
	}
	if n, ok := firstInt(everyMinutesRe, lower); ok {
		cfg.IntervalMinutes = &n
		return cfg, true
	}

	for _, wd := range weekdays {
		if wd.pattern.MatchString(lower) {
			cfg.DayOfWeek = rules.IntPtr(wd.day)
			break
		}
	}
	if dailyRe.MatchString(lower) {
		cfg.DayOfWeek = nil
	}

	if m := atTimeRe.FindStringSubmatch(lower); m != nil {
		if t, ok := ParseTime(m[1]); ok {
			return withTime(cfg, t), true
		}
	}
	for _, token := range anyTimeRe.FindAllString(lower, -1) {
		if t, ok := ParseTime(token); ok {
			return withTime(cfg, t), true
		}
	}

	if cfg.DayOfWeek != nil {
		return withTime(cfg, TimeOfDay{Hour: defaultHour}), true
	}
	return nil, false
}

func withTime(cfg *rules.ScheduleConfig, t TimeOfDay) *rules.ScheduleConfig {
	cfg.Hour = rules.IntPtr(t.Hour)
	cfg.Minute = rules.IntPtr(t.Minute)
	return cfg
}

func firstInt(re *regexp.Regexp, s string) (int, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
