package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"

	"github.com/timepulse/timepulse/cmd/common"
	"github.com/timepulse/timepulse/internal/timers"
)

// watchTick is the bar refresh period. Replaced in tests.
var watchTick = time.Second

// refreshEvery is how often a running watch re-checks the auto-generated
// default countdown.
var refreshEvery = time.Minute

func watch(ctx *cli.Context) error {
	return withSession(ctx, "watch", true, func(bg context.Context, s *session) error {
		r, err := watchTarget(s.Collection(), ctx.Args().First())
		if err != nil {
			return err
		}
		sigCtx, stop := signal.NotifyContext(bg, os.Interrupt)
		defer stop()
		return followCountdown(sigCtx, ctx, s, r)
	})
}

// watchTarget picks the countdown named by arg, or the active record.
func watchTarget(col *timers.Collection, arg string) (timers.Record, error) {
	var r timers.Record
	if arg == "" {
		r, _ = col.Active()
	} else {
		id, err := resolveID(col, arg)
		if err != nil {
			return r, err
		}
		r, _ = col.Get(id)
	}
	if !r.IsCountdown() || r.TargetDate == nil {
		return r, fmt.Errorf("%w: %s", errNotCountdown, r.Name)
	}
	return r, nil
}

// followCountdown draws a bar from the record's creation to its target and
// returns when the target passes or ctx is cancelled. An elapsed default
// countdown is replaced while watching.
func followCountdown(ctx context.Context, cctx *cli.Context, s *session, r timers.Record) error {
	w := cctx.App.Writer
	now := timeNow()
	target := *r.TargetDate
	if !target.After(now) {
		fmt.Fprintln(w, "Countdown finished!")
		announceDefault(ctx, w, s, r)
		return nil
	}
	start := r.CreatedAt
	if start.IsZero() || !start.Before(now) {
		start = now
	}
	total := int64(target.Sub(start).Seconds())

	p := mpb.NewWithContext(ctx, mpb.WithOutput(w), mpb.WithWidth(48))
	bar := common.InitCountdownBar(p, r.Name, total)
	ticker := time.NewTicker(watchTick)
	defer ticker.Stop()
	refresh := time.NewTicker(refreshEvery)
	defer refresh.Stop()
	for {
		elapsed := int64(timeNow().Sub(start).Seconds())
		if elapsed >= total {
			bar.SetCurrent(total)
			break
		}
		bar.SetCurrent(elapsed)
		select {
		case <-ctx.Done():
			bar.Abort(false)
			p.Wait()
			return nil
		case <-refresh.C:
			refreshDefault(ctx, s)
		case <-ticker.C:
		}
	}
	p.Wait()
	announceDefault(ctx, w, s, r)
	return nil
}

// refreshDefault replaces an elapsed default countdown and re-arms it.
func refreshDefault(ctx context.Context, s *session) (timers.Record, bool) {
	replaced, err := s.RefreshDefault(ctx)
	if err != nil {
		s.log.Warning("refresh default countdown: %v", err)
	}
	if !replaced {
		return timers.Record{}, false
	}
	d, ok := s.Collection().Get(timers.DefaultID)
	if ok {
		s.log.Info("default countdown moved to %s", d.Name)
	}
	return d, ok
}

// announceDefault prints the next default countdown once the watched one
// was the default and has finished.
func announceDefault(ctx context.Context, w io.Writer, s *session, r timers.Record) {
	if !r.IsAutoGenerated {
		return
	}
	if d, ok := refreshDefault(ctx, s); ok {
		fmt.Fprintf(w, "Next countdown: %q on %s\n", d.Name, d.TargetDate.Format("2006-01-02"))
	}
}
