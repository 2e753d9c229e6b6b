package perception

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// DATE/TIME EXTRACTOR
// =============================================================================

// DefaultHour fills the clock time when only a date is recognized.
const DefaultHour = 12

// DateTime is the result of date/time extraction.
type DateTime struct {
	Time time.Time
	// HasDate and HasTime report which components were recognized in the text.
	HasDate bool
	HasTime bool
}

// TimeDefaulted reports whether the clock time came from the default hour.
func (d DateTime) TimeDefaulted() bool {
	return d.HasDate && !d.HasTime
}

// DateExtractor resolves date/time expressions relative to a reference instant.
type DateExtractor struct {
	// DefaultHour is used when only a date is found.
	DefaultHour int
}

var defaultDateExtractor = DateExtractor{DefaultHour: DefaultHour}

var (
	ymdRe        = regexp.MustCompile(`(\d{4})\s*[/.-]\s*(\d{1,2})\s*[/.-]\s*(\d{1,2})`)
	ymdKanjiRe   = regexp.MustCompile(`(\d{4})年\s*(\d{1,2})月\s*(\d{1,2})日`)
	mdSlashRe    = regexp.MustCompile(`(\d{1,2})/(\d{1,2})`)
	mdKanjiRe    = regexp.MustCompile(`(\d{1,2})月\s*(\d{1,2})日`)
	weekdayJaRe  = regexp.MustCompile(`(来週|今週|次の)?\s*の?\s*(月|火|水|木|金|土|日)曜日?`)
	weekdayEnRe  = regexp.MustCompile(`(?i)\b(next\s+|this\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	relDayRe     = regexp.MustCompile(`(?i)明々後日|しあさって|明後日|あさって|明日|あした|あす|今日|きょう|今夜|今晩|\bday after tomorrow\b|\btomorrow\b|\btoday\b|\btonight\b`)
	daysLaterRe  = regexp.MustCompile(`(?i)(\d{1,3})\s*日後|\bin\s+(\d{1,3})\s+days?\b`)
	weeksLaterRe = regexp.MustCompile(`(?i)(\d{1,2})\s*週間後|\bin\s+(\d{1,2})\s+weeks?\b`)
	nextWeekRe   = regexp.MustCompile(`(?i)来週|\bnext week\b`)
	laterRe      = regexp.MustCompile(`(?i)(\d{1,3})\s*(時間|分)後|\bin\s+(\d{1,3})\s+(hours?|minutes?|mins?)\b`)

	clockRe      = regexp.MustCompile(`(午前|午後)?\s*(\d{1,2}):(\d{2})`)
	kanjiClockRe = regexp.MustCompile(`(午前|午後)?\s*(\d{1,2})時\s*(?:(\d{1,2})分|(半))?`)
	ampmRe       = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	periodRe     = regexp.MustCompile(`深夜|夕方|今夜|今晩|正午|朝|昼|夜|(?i:\bmorning\b|\bnoon\b|\bevening\b|\btonight\b|\bnight\b)`)
)

// Named periods and the hour each maps to.
var periodHours = map[string]int{
	"朝": 9, "morning": 9,
	"昼": 12, "正午": 12, "noon": 12,
	"夕方": 17, "evening": 17,
	"夜": 20, "今夜": 20, "今晩": 20, "night": 20, "tonight": 20,
	"深夜": 23,
}

var jaWeekdays = map[string]time.Weekday{
	"日": time.Sunday, "月": time.Monday, "火": time.Tuesday, "水": time.Wednesday,
	"木": time.Thursday, "金": time.Friday, "土": time.Saturday,
}

var enWeekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// ParseDateTime resolves the first date/time expression in text to an absolute
// instant in ref's location. ok is false when nothing recognizable is present.
func ParseDateTime(text string, ref time.Time) (time.Time, bool) {
	dt, ok := defaultDateExtractor.Extract(text, ref)
	return dt.Time, ok
}

// ExtractDateTime is ParseDateTime that also reports which components were found.
func ExtractDateTime(text string, ref time.Time) (DateTime, bool) {
	return defaultDateExtractor.Extract(text, ref)
}

// Extract resolves the date/time expression in text relative to ref. Date and time
// are parsed independently and combined: a time alone lands on ref's date and rolls
// forward one day unless strictly after ref; a date alone takes DefaultHour.
func (e DateExtractor) Extract(text string, ref time.Time) (DateTime, bool) {
	t := Normalize(text)

	if m := laterRe.FindStringSubmatch(t); m != nil {
		n, _ := strconv.Atoi(firstNonEmpty(m[1], m[3]))
		unit := time.Minute
		if u := firstNonEmpty(m[2], m[4]); u == "時間" || strings.HasPrefix(strings.ToLower(u), "hour") {
			unit = time.Hour
		}
		return DateTime{Time: ref.Add(time.Duration(n) * unit).Truncate(time.Minute), HasDate: true, HasTime: true}, true
	}

	date, hasDate := parseDate(t, ref)
	hour, minute, nextDay, hasTime := parseClock(t)

	switch {
	case hasDate && hasTime:
		if nextDay {
			date = date.AddDate(0, 0, 1)
		}
		return DateTime{
			Time:    time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, ref.Location()),
			HasDate: true,
			HasTime: true,
		}, true
	case hasDate:
		return DateTime{
			Time:    time.Date(date.Year(), date.Month(), date.Day(), e.DefaultHour, 0, 0, 0, ref.Location()),
			HasDate: true,
		}, true
	case hasTime:
		at := time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, ref.Location())
		if nextDay {
			at = at.AddDate(0, 0, 1)
		}
		if !at.After(ref) {
			at = at.AddDate(0, 0, 1)
		}
		return DateTime{Time: at, HasTime: true}, true
	}
	return DateTime{}, false
}

// parseDate returns the calendar day (midnight in ref's location) named by t.
func parseDate(t string, ref time.Time) (time.Time, bool) {
	loc := ref.Location()
	today := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, loc)

	// absolute, explicit year
	for _, re := range []*regexp.Regexp{ymdKanjiRe, ymdRe} {
		if m := re.FindStringSubmatch(t); m != nil {
			y, _ := strconv.Atoi(m[1])
			mo, _ := strconv.Atoi(m[2])
			d, _ := strconv.Atoi(m[3])
			if validDate(y, mo, d) {
				return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc), true
			}
		}
	}

	// absolute, year inferred as the next occurrence on or after today
	for _, re := range []*regexp.Regexp{mdKanjiRe, mdSlashRe} {
		if m := re.FindStringSubmatch(t); m != nil {
			mo, _ := strconv.Atoi(m[1])
			d, _ := strconv.Atoi(m[2])
			if !validDate(2000, mo, d) { // leap year so 2/29 is accepted
				continue
			}
			y := ref.Year()
			if !validDate(y, mo, d) || time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc).Before(today) {
				y = nextYearWith(y+1, mo, d)
			}
			return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc), true
		}
	}

	// weekdays, strictly after today
	if m := weekdayJaRe.FindStringSubmatch(t); m != nil {
		return resolveWeekday(today, jaWeekdays[m[2]], m[1]), true
	}
	if m := weekdayEnRe.FindStringSubmatch(t); m != nil {
		qual := strings.TrimSpace(strings.ToLower(m[1]))
		switch qual {
		case "next":
			qual = "来週"
		case "this":
			qual = "今週"
		}
		return resolveWeekday(today, enWeekdays[strings.ToLower(m[2])], qual), true
	}

	// relative day words
	if m := relDayRe.FindString(t); m != "" {
		switch strings.ToLower(m) {
		case "明々後日", "しあさって":
			return today.AddDate(0, 0, 3), true
		case "明後日", "あさって", "day after tomorrow":
			return today.AddDate(0, 0, 2), true
		case "明日", "あした", "あす", "tomorrow":
			return today.AddDate(0, 0, 1), true
		default:
			return today, true
		}
	}

	if m := daysLaterRe.FindStringSubmatch(t); m != nil {
		n, _ := strconv.Atoi(firstNonEmpty(m[1], m[2]))
		return today.AddDate(0, 0, n), true
	}
	if m := weeksLaterRe.FindStringSubmatch(t); m != nil {
		n, _ := strconv.Atoi(firstNonEmpty(m[1], m[2]))
		return today.AddDate(0, 0, 7*n), true
	}
	if nextWeekRe.MatchString(t) {
		return today.AddDate(0, 0, 7), true
	}

	return time.Time{}, false
}

// resolveWeekday returns the next wd strictly after today, never today itself.
// "来週" selects that weekday in the following Monday-based calendar week.
func resolveWeekday(today time.Time, wd time.Weekday, qualifier string) time.Time {
	ahead := (int(wd) - int(today.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	next := today.AddDate(0, 0, ahead)

	if qualifier == "来週" {
		// Monday of next week, then offset to wd
		sinceMonday := (int(today.Weekday()) + 6) % 7
		nextMonday := today.AddDate(0, 0, 7-sinceMonday)
		return nextMonday.AddDate(0, 0, (int(wd)+6)%7)
	}
	return next
}

// parseClock returns the hour and minute named by t. nextDay is set for "24時",
// which is midnight at the end of the named day.
func parseClock(t string) (hour, minute int, nextDay, ok bool) {
	period := ""
	if m := periodRe.FindString(t); m != "" {
		period = strings.ToLower(m)
	}

	if m := ampmRe.FindStringSubmatch(t); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi := 0
		if m[2] != "" {
			mi, _ = strconv.Atoi(m[2])
		}
		if h < 1 || h > 12 || mi > 59 {
			return 0, 0, false, false
		}
		h %= 12
		if strings.EqualFold(m[3], "pm") {
			h += 12
		}
		return h, mi, false, true
	}

	if m := clockRe.FindStringSubmatch(t); m != nil {
		h, _ := strconv.Atoi(m[2])
		mi, _ := strconv.Atoi(m[3])
		return clockReading(h, mi, m[1], period)
	}

	if m := kanjiClockRe.FindStringSubmatch(t); m != nil {
		h, _ := strconv.Atoi(m[2])
		mi := 0
		switch {
		case m[3] != "":
			mi, _ = strconv.Atoi(m[3])
		case m[4] != "":
			mi = 30
		}
		return clockReading(h, mi, m[1], period)
	}

	if h, ok := periodHours[period]; ok {
		return h, 0, false, true
	}
	return 0, 0, false, false
}

func clockReading(h, mi int, marker, period string) (hour, minute int, nextDay, ok bool) {
	if mi > 59 {
		return 0, 0, false, false
	}
	if h == 24 {
		if mi != 0 || marker != "" {
			return 0, 0, false, false
		}
		return 0, 0, true, true
	}
	h, ok = applyMeridiem(h, marker, period)
	if !ok {
		return 0, 0, false, false
	}
	return h, mi, false, true
}

// applyMeridiem converts a 12-hour reading to 24-hour when a 午前/午後 marker or an
// afternoon period word says so.
func applyMeridiem(h int, marker, period string) (int, bool) {
	if h < 0 || h > 23 {
		return 0, false
	}
	switch marker {
	case "午前":
		if h == 12 {
			h = 0
		}
	case "午後":
		if h < 12 {
			h += 12
		}
	default:
		switch period {
		case "夕方", "夜", "今夜", "今晩", "evening", "night", "tonight":
			if h < 12 {
				h += 12
			}
		case "深夜":
			if h == 12 {
				h = 0
			}
		}
	}
	if h > 23 {
		return 0, false
	}
	return h, true
}

func validDate(y, m, d int) bool {
	if m < 1 || m > 12 || d < 1 {
		return false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	return t.Month() == time.Month(m) && t.Day() == d
}

// nextYearWith returns the first year from y on in which m/d exists.
func nextYearWith(y, m, d int) int {
	for i := 0; i < 8; i++ {
		if validDate(y+i, m, d) {
			return y + i
		}
	}
	return y
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// dateTimeSpans are the expressions removed when extracting a payload.
var dateTimeSpans = []*regexp.Regexp{
	laterRe, ymdKanjiRe, ymdRe, mdKanjiRe, mdSlashRe, weekdayJaRe, weekdayEnRe,
	daysLaterRe, weeksLaterRe, nextWeekRe, relDayRe,
	ampmRe, clockRe, kanjiClockRe, periodRe,
}
