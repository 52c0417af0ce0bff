package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli"

	"github.com/timepulse/timepulse/cmd/common"
	"github.com/timepulse/timepulse/internal/daemon"
)

const stopTimeout = 5 * time.Second

// stopProcess is replaced in tests.
var stopProcess = daemon.Stop

func stopAgent(ctx *cli.Context) error {
	e, err := loadEnv()
	if err != nil {
		common.PrintRuntimeErr(ctx, "stop-agent", "load_env", err)
		return nil
	}
	w := ctx.App.Writer
	pid, err := daemon.NewPIDFile(e.fs, e.cfg.Path(pidFileName)).Read()
	if errors.Is(err, daemon.ErrNoPIDFile) {
		fmt.Fprintln(w, "Agent is not running (PID file not found)")
		return nil
	}
	if err != nil {
		common.PrintRuntimeErr(ctx, "stop-agent", "read_pid", err)
		return nil
	}
	fmt.Fprintf(w, "Stopping agent (PID %d)...\n", pid)
	forced, err := stopProcess(pid, stopTimeout)
	if err != nil {
		common.PrintRuntimeErr(ctx, "stop-agent", "stop", err)
		return nil
	}
	if forced {
		fmt.Fprintln(w, "Graceful shutdown timed out, agent killed")
		return nil
	}
	fmt.Fprintln(w, "Agent stopped")
	return nil
}
