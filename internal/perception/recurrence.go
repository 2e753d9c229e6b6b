package perception

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	everyWeekdayJaRe = regexp.MustCompile(`毎週\s*の?\s*([月火水木金土日])曜日?`)
	everyWeekdayEnRe = regexp.MustCompile(`(?i)\bevery\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	monthDayRe       = regexp.MustCompile(`毎月\s*(\d{1,2})日`)
	dailyRe          = regexp.MustCompile(`(?i)毎日|毎朝|毎晩|毎夜|毎夕|\bdaily\b|\bevery\s*day\b|\bevery\s+(?:morning|evening|night)\b`)
	weekdaysRe       = regexp.MustCompile(`(?i)平日|\bweekdays\b|\bevery\s+weekday\b`)
	weekendRe        = regexp.MustCompile(`(?i)週末|土日|\bweekends?\b`)
	weeklyRe         = regexp.MustCompile(`(?i)毎週|\bweekly\b|\bevery\s+week\b`)
	monthlyRe        = regexp.MustCompile(`(?i)毎月|\bmonthly\b|\bevery\s+month\b`)
	yearlyRe         = regexp.MustCompile(`(?i)毎年|\byearly\b|\bannually\b|\bevery\s+year\b`)
)

var rruleDays = map[string]string{
	"月": "MO", "火": "TU", "水": "WE", "木": "TH", "金": "FR", "土": "SA", "日": "SU",
	"monday": "MO", "tuesday": "TU", "wednesday": "WE", "thursday": "TH",
	"friday": "FR", "saturday": "SA", "sunday": "SU",
}

// ParseRecurrence returns an RFC 5545 recurrence rule ("FREQ=WEEKLY;BYDAY=MO") for
// the repetition named in text, or "" when the text is not recurring.
func ParseRecurrence(text string) string {
	t := Normalize(text)

	if m := everyWeekdayJaRe.FindStringSubmatch(t); m != nil {
		return "FREQ=WEEKLY;BYDAY=" + rruleDays[m[1]]
	}
	if m := everyWeekdayEnRe.FindStringSubmatch(t); m != nil {
		return "FREQ=WEEKLY;BYDAY=" + rruleDays[strings.ToLower(m[1])]
	}
	if m := monthDayRe.FindStringSubmatch(t); m != nil {
		if d, _ := strconv.Atoi(m[1]); d >= 1 && d <= 31 {
			return fmt.Sprintf("FREQ=MONTHLY;BYMONTHDAY=%d", d)
		}
	}
	switch {
	case weekdaysRe.MatchString(t):
		return "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR"
	case dailyRe.MatchString(t):
		return "FREQ=DAILY"
	case weekendRe.MatchString(t) && weeklyRe.MatchString(t):
		return "FREQ=WEEKLY;BYDAY=SA,SU"
	case weeklyRe.MatchString(t):
		return "FREQ=WEEKLY"
	case monthlyRe.MatchString(t):
		return "FREQ=MONTHLY"
	case yearlyRe.MatchString(t):
		return "FREQ=YEARLY"
	}
	return ""
}

// recurrenceSpans are the expressions removed when extracting a payload.
var recurrenceSpans = []*regexp.Regexp{
	everyWeekdayJaRe, everyWeekdayEnRe, monthDayRe, weekdaysRe, dailyRe, weekendRe, weeklyRe, monthlyRe, yearlyRe,
}
