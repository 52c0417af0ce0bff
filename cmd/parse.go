package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/timepulse/timepulse/internal/timers"
)

var (
	errNoTarget     = errors.New("a countdown needs --at or --in")
	errBothTargets  = errors.New("--at and --in are mutually exclusive")
	errAmbiguousID  = errors.New("ambiguous id")
	errNoTimezone   = errors.New("a world clock needs --tz")
	errUnknownType  = errors.New("unknown timer type")
	errNotCountdown = errors.New("not a countdown")
)

// timeNow is replaced in tests.
var timeNow = time.Now

var targetLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTarget reads an absolute target in loc, or now plus in.
func parseTarget(at string, in time.Duration, now time.Time, loc *time.Location) (time.Time, error) {
	switch {
	case at != "" && in != 0:
		return time.Time{}, errBothTargets
	case in != 0:
		return now.Add(in), nil
	case at == "":
		return time.Time{}, errNoTarget
	}
	for _, layout := range targetLayouts {
		if t, err := time.ParseInLocation(layout, at, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", at)
}

func parseType(s string) (timers.Type, error) {
	switch t := timers.Type(strings.ToLower(s)); t {
	case "", timers.Countdown:
		return timers.Countdown, nil
	case timers.Stopwatch, timers.WorldClock:
		return t, nil
	}
	return "", fmt.Errorf("%w: %s", errUnknownType, s)
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// resolveID matches arg against the collection: an exact id first, then a
// unique id prefix.
func resolveID(col *timers.Collection, arg string) (string, error) {
	if _, ok := col.Get(arg); ok {
		return arg, nil
	}
	var match string
	for _, r := range col.Timers() {
		if !strings.HasPrefix(r.ID, arg) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("%w: %s matches %s and %s", errAmbiguousID, arg, match, r.ID)
		}
		match = r.ID
	}
	if arg == "" || match == "" {
		return "", fmt.Errorf("%w: %s", timers.ErrNotFound, arg)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
