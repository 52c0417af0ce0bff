package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/timepulse/timepulse/cmd/common"
	"github.com/timepulse/timepulse/internal/timers"
)

var (
	targetFlags = []cli.Flag{
		cli.StringFlag{
			Name:  "at",
			Usage: "countdown target, e.g. \"2026-12-31 23:59\"",
		},
		cli.DurationFlag{
			Name:  "in",
			Usage: "countdown target relative to now, e.g. 1h30m",
		},
		cli.StringFlag{
			Name:  "tz",
			Usage: "IANA time zone for --at and world clocks, e.g. Asia/Tokyo",
		},
		cli.StringFlag{
			Name:  "color, c",
			Usage: "display color",
		},
	}

	addFlags = append([]cli.Flag{
		cli.StringFlag{
			Name:  "type, t",
			Usage: "countdown, stopwatch or worldclock",
			Value: string(timers.Countdown),
		},
		cli.StringFlag{
			Name:  "city",
			Usage: "world clock city",
		},
		cli.StringFlag{
			Name:  "country",
			Usage: "world clock country",
		},
		cli.BoolFlag{
			Name:  "start, s",
			Usage: "start the stopwatch right away",
		},
	}, targetFlags...)

	editFlags = append([]cli.Flag{
		cli.StringFlag{
			Name:  "name, n",
			Usage: "new name",
		},
		cli.BoolFlag{
			Name:  "start",
			Usage: "start a stopwatch from now",
		},
		cli.BoolFlag{
			Name:  "stop",
			Usage: "stop a running stopwatch",
		},
	}, targetFlags...)
)

// recordFromFlags builds the record the add command inserts.
func recordFromFlags(ctx *cli.Context, name string, now time.Time) (timers.Record, error) {
	typ, err := parseType(ctx.String("type"))
	if err != nil {
		return timers.Record{}, err
	}
	loc, err := loadLocation(ctx.String("tz"))
	if err != nil {
		return timers.Record{}, err
	}
	r := timers.Record{Name: name, Type: typ, Color: ctx.String("color")}
	switch typ {
	case timers.Countdown:
		target, err := parseTarget(ctx.String("at"), ctx.Duration("in"), now, loc)
		if err != nil {
			return r, err
		}
		r.TargetDate = &target
		r.Timezone = loc.String()
	case timers.Stopwatch:
		if ctx.Bool("start") {
			r.StartTime = &now
			r.IsRunning = true
		}
	case timers.WorldClock:
		if ctx.String("tz") == "" {
			return r, errNoTimezone
		}
		r.Timezone = loc.String()
		r.City = ctx.String("city")
		r.Country = ctx.String("country")
	}
	return r, nil
}

// patchFromFlags collects the flags that were given into a patch.
func patchFromFlags(ctx *cli.Context, cur timers.Record, now time.Time) (timers.Patch, error) {
	var p timers.Patch
	if ctx.IsSet("name") {
		v := ctx.String("name")
		p.Name = &v
	}
	if ctx.IsSet("color") {
		v := ctx.String("color")
		p.Color = &v
	}
	if ctx.IsSet("tz") {
		v := ctx.String("tz")
		if _, err := loadLocation(v); err != nil {
			return p, err
		}
		p.Timezone = &v
	}
	if ctx.IsSet("at") || ctx.IsSet("in") {
		if !cur.IsCountdown() {
			return p, fmt.Errorf("%w: %s", errNotCountdown, cur.ID)
		}
		tz := cur.Timezone
		if ctx.IsSet("tz") {
			tz = ctx.String("tz")
		}
		loc, err := loadLocation(tz)
		if err != nil {
			loc = time.Local
		}
		target, err := parseTarget(ctx.String("at"), ctx.Duration("in"), now, loc)
		if err != nil {
			return p, err
		}
		p.TargetDate = &target
	}
	switch {
	case ctx.Bool("start"):
		running := true
		p.StartTime = &now
		p.IsRunning = &running
	case ctx.Bool("stop"):
		running := false
		p.IsRunning = &running
	}
	return p, nil
}

func add(ctx *cli.Context) error {
	name := strings.TrimSpace(strings.Join(ctx.Args(), " "))
	if name == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("a name is required"))
	}
	rec, err := recordFromFlags(ctx, name, timeNow())
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}
	return withSession(ctx, "add", true, func(bg context.Context, s *session) error {
		r, err := s.Add(bg, rec)
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "Added %s %q (%s)\n", r.Kind(), r.Name, shortID(r.ID))
		return nil
	})
}

func edit(ctx *cli.Context) error {
	if !ctx.Args().Present() {
		return common.PrintErrWithCmdHelp(ctx, errors.New("an id is required"))
	}
	return withSession(ctx, "edit", true, func(bg context.Context, s *session) error {
		id, err := resolveID(s.Collection(), ctx.Args().First())
		if err != nil {
			return err
		}
		cur, _ := s.Collection().Get(id)
		patch, err := patchFromFlags(ctx, cur, timeNow())
		if err != nil {
			return err
		}
		r, err := s.Update(bg, id, patch)
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "Updated %q (%s)\n", r.Name, shortID(r.ID))
		return nil
	})
}

func remove(ctx *cli.Context) error {
	if !ctx.Args().Present() {
		return common.PrintErrWithCmdHelp(ctx, errors.New("an id is required"))
	}
	return withSession(ctx, "rm", true, func(bg context.Context, s *session) error {
		id, err := resolveID(s.Collection(), ctx.Args().First())
		if err != nil {
			return err
		}
		r, err := s.Delete(bg, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "Removed %q (%s)\n", r.Name, shortID(r.ID))
		return nil
	})
}

func selectTimer(ctx *cli.Context) error {
	if !ctx.Args().Present() {
		return common.PrintErrWithCmdHelp(ctx, errors.New("an id is required"))
	}
	return withSession(ctx, "select", false, func(bg context.Context, s *session) error {
		id, err := resolveID(s.Collection(), ctx.Args().First())
		if err != nil {
			return err
		}
		if err := s.Select(bg, id); err != nil {
			return err
		}
		r, _ := s.Collection().Get(id)
		fmt.Fprintf(ctx.App.Writer, "Active timer is now %q\n", r.Name)
		return nil
	})
}

func list(ctx *cli.Context) error {
	if ctx.Args().First() == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	return withSession(ctx, "list", false, func(_ context.Context, s *session) error {
		printTimers(ctx.App.Writer, s.Collection(), timeNow())
		return nil
	})
}

func printTimers(w io.Writer, col *timers.Collection, now time.Time) {
	fmt.Fprintln(w, "Here are your timers:")
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tTYPE\tNAME\tWHEN")
	active := col.ActiveID()
	for _, r := range col.Timers() {
		mark := ""
		if r.ID == active {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, shortID(r.ID), r.Kind(), r.Name, describe(r, now))
	}
	tw.Flush()
}

// describe renders the time-related part of r for list.
func describe(r timers.Record, now time.Time) string {
	switch r.Kind() {
	case timers.Countdown:
		if r.TargetDate == nil {
			return "no target"
		}
		when := r.TargetDate.Local().Format("2006-01-02 15:04")
		if !r.TargetDate.After(now) {
			return fmt.Sprintf("finished %s (%s)", humanize.RelTime(*r.TargetDate, now, "ago", "from now"), when)
		}
		return fmt.Sprintf("%s (%s)", humanize.RelTime(*r.TargetDate, now, "ago", "from now"), when)
	case timers.Stopwatch:
		if !r.IsRunning || r.StartTime == nil {
			return "stopped"
		}
		return "running for " + common.FormatRemaining(now.Sub(*r.StartTime))
	case timers.WorldClock:
		loc, err := time.LoadLocation(r.Timezone)
		if err != nil {
			return r.Timezone
		}
		place := strings.Trim(strings.Join([]string{r.City, r.Country}, ", "), ", ")
		t := now.In(loc).Format("15:04 MST")
		if place == "" {
			return t
		}
		return fmt.Sprintf("%s in %s", t, place)
	}
	return ""
}

// withSession loads the environment, boots a session, runs fn and closes
// the session, flushing any pending sync push. Errors are printed the way
// every command prints them.
func withSession(ctx *cli.Context, name string, withAgent bool, fn func(context.Context, *session) error) error {
	e, err := loadEnv()
	if err != nil {
		common.PrintRuntimeErr(ctx, name, "load_env", err)
		return nil
	}
	bg := context.Background()
	s, err := e.openSession(bg, withAgent)
	if err != nil {
		common.PrintRuntimeErr(ctx, name, "boot", err)
		return nil
	}
	defer s.close(bg)
	if err := fn(bg, s); err != nil {
		common.PrintRuntimeErr(ctx, name, "run", err)
	}
	return nil
}
