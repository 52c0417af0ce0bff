package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/timepulse/timepulse/cmd/common"
)

var errNoRemote = errors.New("no remote store configured, set remote.url in config.yaml or TIMEPULSE_REMOTE_URL")

func syncSet(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 2 {
		return common.PrintErrWithCmdHelp(ctx, errors.New("expected <id> <password>"))
	}
	e, err := loadEnv()
	if err != nil {
		common.PrintRuntimeErr(ctx, "sync", "load_env", err)
		return nil
	}
	if err := e.credentials().Save(args[0], args[1]); err != nil {
		common.PrintRuntimeErr(ctx, "sync", "save", err)
		return nil
	}
	w := ctx.App.Writer
	if e.remote() == nil {
		fmt.Fprintf(w, "Credentials saved, but %v\n", errNoRemote)
		return nil
	}
	bg := context.Background()
	s, err := e.openSession(bg, true)
	if err != nil {
		common.PrintRuntimeErr(ctx, "sync", "boot", err)
		return nil
	}
	defer s.close(bg)
	if s.Pulled() {
		fmt.Fprintf(w, "Sync enabled, pulled %d timers\n", s.Collection().Len())
		return nil
	}
	// Nothing to pull: seed the remote with the local timers.
	s.engine.Notify(s.Collection().Snapshot())
	fmt.Fprintf(w, "Sync enabled, pushing %d local timers\n", s.Collection().Len())
	return nil
}

func syncClear(ctx *cli.Context) error {
	e, err := loadEnv()
	if err != nil {
		common.PrintRuntimeErr(ctx, "sync", "load_env", err)
		return nil
	}
	if err := e.credentials().Clear(); err != nil {
		common.PrintRuntimeErr(ctx, "sync", "clear", err)
		return nil
	}
	fmt.Fprintln(ctx.App.Writer, "Sync disabled, timers stay on this device")
	return nil
}

func syncStatus(ctx *cli.Context) error {
	e, err := loadEnv()
	if err != nil {
		common.PrintRuntimeErr(ctx, "sync", "load_env", err)
		return nil
	}
	w := ctx.App.Writer
	st, err := e.credentials().Load()
	if err != nil {
		common.PrintRuntimeErr(ctx, "sync", "load", err)
		return nil
	}
	if st == nil {
		fmt.Fprintln(w, "Sync is off")
		return nil
	}
	fmt.Fprintf(w, "Sync id:  %s...\n", shortID(st.RemoteID))
	rs := e.remote()
	if rs == nil {
		fmt.Fprintf(w, "Remote:   %v\n", errNoRemote)
		return nil
	}
	fmt.Fprintf(w, "Remote:   %s\n", e.cfg.Remote.URL)
	p, err := rs.Get(context.Background(), st.RemoteID, st.RemoteSecret)
	switch {
	case err != nil:
		fmt.Fprintf(w, "Document: unreachable (%v)\n", err)
	case p == nil:
		fmt.Fprintln(w, "Document: none (expired or never pushed)")
	default:
		fmt.Fprintf(w, "Document: %d timers", len(p.Timers))
		if p.UpdatedAt > 0 {
			fmt.Fprintf(w, ", written %s", humanize.Time(time.UnixMilli(p.UpdatedAt)))
		}
		fmt.Fprintln(w)
	}
	return nil
}
