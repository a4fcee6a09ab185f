package directory

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/doctor-appointment-assistant/internal/booking"
)

var (
	ErrUnknownDoctor   = errors.New("directory: unknown doctor")
	ErrDayUnavailable  = errors.New("directory: doctor does not work that day")
	ErrTimeUnavailable = errors.New("directory: time is outside the doctor's hours")

	ErrUnparseableDate = fmt.Errorf("directory: unrecognised date: %w", booking.ErrValidationGap)
	ErrUnparseableTime = fmt.Errorf("directory: unrecognised time: %w", booking.ErrValidationGap)
	ErrPastDate        = fmt.Errorf("directory: date is in the past: %w", booking.ErrValidationGap)
)

var (
	ordinalRE = regexp.MustCompile(`\b(\d{1,2})(st|nd|rd|th)\b`)
	spaceRE   = regexp.MustCompile(`\s+`)
)

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"Monday January 2 2006",
	"Monday Jan 2 2006",
	"Mon Jan 2 2006",
	"Monday 2 January 2006",
}

var yearlessLayouts = []string{
	"January 2",
	"Jan 2",
	"2 January",
	"2 Jan",
	"Monday January 2",
	"Monday Jan 2",
	"Mon Jan 2",
	"Monday 2 January",
}

var clockLayouts = []string{"3:04PM", "3PM", "15:04", "15"}

// DateSpec is a parsed appointment date. Date is zero when only a weekday was given.
type DateSpec struct {
	Weekday time.Weekday
	Date    time.Time
}

// HasDate reports whether a calendar date (not just a weekday) was given.
func (d DateSpec) HasDate() bool {
	return !d.Date.IsZero()
}

// ParseDate understands ISO dates, month-name dates, weekday names, "today" and
// "tomorrow". Relative forms resolve against now.
func ParseDate(raw string, now time.Time) (DateSpec, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, ",", " ")
	s = ordinalRE.ReplaceAllString(s, "$1")
	s = strings.TrimPrefix(s, "on ")
	s = spaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	if s == "" {
		return DateSpec{}, ErrUnparseableDate
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch s {
	case "today":
		return DateSpec{Weekday: today.Weekday(), Date: today}, nil
	case "tomorrow":
		d := today.AddDate(0, 0, 1)
		return DateSpec{Weekday: d.Weekday(), Date: d}, nil
	case "day after tomorrow":
		d := today.AddDate(0, 0, 2)
		return DateSpec{Weekday: d.Weekday(), Date: d}, nil
	}

	word := strings.TrimPrefix(strings.TrimPrefix(s, "next "), "this ")
	if day, ok := weekdayNames[word]; ok {
		return DateSpec{Weekday: day}, nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return DateSpec{Weekday: t.Weekday(), Date: t}, nil
		}
	}
	for _, layout := range yearlessLayouts {
		t, err := time.ParseInLocation(layout, s, now.Location())
		if err != nil {
			continue
		}
		t = time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, now.Location())
		if t.Before(today) {
			t = t.AddDate(1, 0, 0)
		}
		return DateSpec{Weekday: t.Weekday(), Date: t}, nil
	}
	return DateSpec{}, fmt.Errorf("%w: %q", ErrUnparseableDate, raw)
}

// ParseClock converts "3 PM", "3:30pm", "15:00" or "noon" into minutes after midnight.
func ParseClock(raw string) (int, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, " ", "")
	switch s {
	case "NOON", "MIDDAY":
		return 12 * 60, nil
	case "MIDNIGHT":
		return 0, nil
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*60 + t.Minute(), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnparseableTime, raw)
}

// CheckAvailability confirms that the doctor exists and works at the requested
// date and time. It returns the matching window.
func (d *Directory) CheckAvailability(doctorName, date, clock string, now time.Time) (Window, error) {
	doc, ok := d.Lookup(doctorName)
	if !ok {
		return Window{}, fmt.Errorf("%w: %q (known doctors: %s)", ErrUnknownDoctor, doctorName, strings.Join(d.names, ", "))
	}
	spec, err := ParseDate(date, now)
	if err != nil {
		return Window{}, err
	}
	if spec.HasDate() {
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		if spec.Date.Before(today) {
			return Window{}, fmt.Errorf("%w: %s", ErrPastDate, spec.Date.Format("Monday, January 2, 2006"))
		}
	}
	minute, err := ParseClock(clock)
	if err != nil {
		return Window{}, err
	}

	var sameDay []Window
	for _, w := range d.windows[doc.Name] {
		if !w.Days[spec.Weekday] {
			continue
		}
		if w.Contains(spec.Weekday, minute) {
			return w, nil
		}
		sameDay = append(sameDay, w)
	}
	if len(sameDay) == 0 {
		return Window{}, fmt.Errorf("%w: %s is not available on %s", ErrDayUnavailable, doc.Name, spec.Weekday)
	}
	ranges := make([]string, 0, len(sameDay))
	for _, w := range sameDay {
		ranges = append(ranges, fmt.Sprintf("%s %s", w.Period, w.Range))
	}
	return Window{}, fmt.Errorf("%w: %s is available on %s only %s", ErrTimeUnavailable, doc.Name, spec.Weekday, strings.Join(ranges, ", "))
}

func parseWindows(av Availability) ([]Window, error) {
	dayRanges := make([]string, 0, len(av))
	for label := range av {
		dayRanges = append(dayRanges, label)
	}
	sort.Strings(dayRanges)

	var windows []Window
	for _, label := range dayRanges {
		days, err := parseDayRange(label)
		if err != nil {
			return nil, err
		}
		periods := make([]string, 0, len(av[label]))
		for p := range av[label] {
			periods = append(periods, p)
		}
		sort.Strings(periods)
		for _, period := range periods {
			rng := av[label][period]
			start, end, err := parseTimeRange(rng)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", label, period, err)
			}
			windows = append(windows, Window{
				DayRange: label,
				Period:   period,
				Range:    rng,
				Days:     days,
				Start:    start,
				End:      end,
			})
		}
	}
	return windows, nil
}

// parseDayRange accepts "Monday to Friday", "Mon-Fri", "Saturday", "weekdays"
// and comma or "and" separated lists of those.
func parseDayRange(label string) (map[time.Weekday]bool, error) {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.NewReplacer("–", "-", "—", "-", " and ", ",", "&", ",").Replace(s)
	days := make(map[time.Weekday]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch part {
		case "weekdays":
			for d := time.Monday; d <= time.Friday; d++ {
				days[d] = true
			}
			continue
		case "weekends":
			days[time.Saturday] = true
			days[time.Sunday] = true
			continue
		case "daily", "every day", "everyday":
			for d := time.Sunday; d <= time.Saturday; d++ {
				days[d] = true
			}
			continue
		}
		var bounds []string
		if strings.Contains(part, " to ") {
			bounds = strings.SplitN(part, " to ", 2)
		} else {
			bounds = strings.SplitN(part, "-", 2)
		}
		from, ok := weekdayNames[strings.TrimSpace(bounds[0])]
		if !ok {
			return nil, fmt.Errorf("unrecognised day %q in %q", bounds[0], label)
		}
		if len(bounds) == 1 {
			days[from] = true
			continue
		}
		to, ok := weekdayNames[strings.TrimSpace(bounds[1])]
		if !ok {
			return nil, fmt.Errorf("unrecognised day %q in %q", bounds[1], label)
		}
		for d := from; ; d = (d + 1) % 7 {
			days[d] = true
			if d == to {
				break
			}
		}
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("empty day range %q", label)
	}
	return days, nil
}

func parseTimeRange(rng string) (int, int, error) {
	s := strings.NewReplacer("–", "-", "—", "-", " to ", "-").Replace(rng)
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unrecognised time range %q", rng)
	}
	start, err := ParseClock(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseClock(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		end = 24 * 60
	}
	return start, end, nil
}
