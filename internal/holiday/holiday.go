// Package holiday generates the calendar of well-known holidays used to seed
// the auto-generated default countdown. Dates are midnight UTC.
package holiday

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Holiday is a named date with a display color.
type Holiday struct {
	Name  string
	Date  time.Time
	Color string
}

type fixed struct {
	name  string
	month time.Month
	day   int
	color string
}

var fixedHolidays = []fixed{
	{"New Year's Day", time.January, 1, "#1890FF"},
	{"Valentine's Day", time.February, 14, "#EB2F96"},
	{"Women's Day", time.March, 8, "#C71585"},
	{"Arbor Day", time.March, 12, "#52C41A"},
	{"April Fools' Day", time.April, 1, "#722ED1"},
	{"Labour Day", time.May, 1, "#FA8C16"},
	{"Youth Day", time.May, 4, "#722ED1"},
	{"Children's Day", time.June, 1, "#13C2C2"},
	{"Party Founding Day", time.July, 1, "#FF0000"},
	{"Army Day", time.August, 1, "#CF1322"},
	{"Teachers' Day", time.September, 10, "#096DD9"},
	{"National Day", time.October, 1, "#FF4D4F"},
	{"Halloween", time.October, 31, "#FF7A45"},
	{"Christmas Eve", time.December, 24, "#36CFC9"},
	{"Christmas Day", time.December, 25, "#F759AB"},
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// nthWeekday returns the n-th (1-based) weekday of month.
func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	first := date(year, month, 1)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+7*(n-1))
}

// qingming approximates the Qingming solar term for 2000-2099.
func qingming(year int) time.Time {
	y := float64(year - 2000)
	day := int(math.Floor(y*0.2422+4.81)) - int(math.Floor(y/4))
	return date(year, time.April, day)
}

// List returns every holiday of year, sorted by date.
func List(year int) []Holiday {
	out := make([]Holiday, 0, len(fixedHolidays)+4)
	for _, f := range fixedHolidays {
		out = append(out, Holiday{Name: f.name, Date: date(year, f.month, f.day), Color: f.color})
	}
	out = append(out,
		Holiday{Name: "Qingming Festival", Date: qingming(year), Color: "#228B22"},
		Holiday{Name: "Mother's Day", Date: nthWeekday(year, time.May, time.Sunday, 2), Color: "#F759AB"},
		Holiday{Name: "Father's Day", Date: nthWeekday(year, time.June, time.Sunday, 3), Color: "#1890FF"},
		Holiday{Name: "Thanksgiving", Date: nthWeekday(year, time.November, time.Thursday, 4), Color: "#FAAD14"},
	)
	for i := range out {
		out[i].Name = fmt.Sprintf("%d %s", year, out[i].Name)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Upcoming returns the holidays of this year and next that are strictly after now.
func Upcoming(now time.Time) []Holiday {
	year := now.UTC().Year()
	var out []Holiday
	for _, h := range append(List(year), List(year+1)...) {
		if h.Date.After(now) {
			out = append(out, h)
		}
	}
	return out
}

// Next returns the first holiday strictly after now.
func Next(now time.Time) Holiday {
	return Upcoming(now)[0]
}
