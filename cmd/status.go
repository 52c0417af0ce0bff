package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/timepulse/timepulse/cmd/common"
	pcommon "github.com/timepulse/timepulse/common"
	"github.com/timepulse/timepulse/pkg/agentcli"
)

// eventTimeout bounds how long check-updates and update-cache wait for the
// agent's broadcast.
var eventTimeout = 30 * time.Second

func status(ctx *cli.Context) error {
	e, err := loadEnv()
	if err != nil {
		common.PrintRuntimeErr(ctx, "status", "load_env", err)
		return nil
	}
	bg := context.Background()
	c, err := dialAgent(bg, e.cfg.SocketPath)
	if err != nil {
		common.PrintRuntimeErr(ctx, "status", "dial", err)
		return nil
	}
	defer c.Close()
	st, err := c.Status(bg)
	if err != nil {
		common.PrintRuntimeErr(ctx, "status", "status", err)
		return nil
	}
	w := ctx.App.Writer
	fmt.Fprintf(w, "Agent version:   %s\n", st.Version)
	fmt.Fprintf(w, "Cache version:   %s\n", st.CacheVersion)
	fmt.Fprintf(w, "Caches:          %s\n", strings.Join(st.Caches, ", "))
	fmt.Fprintf(w, "Connected:       %d\n", st.Clients)
	if len(st.ArmedTasks) == 0 {
		fmt.Fprintln(w, "Armed countdowns: none")
		return nil
	}
	fmt.Fprintf(w, "Armed countdowns: %s\n", strings.Join(st.ArmedTasks, ", "))
	return nil
}

func checkUpdates(ctx *cli.Context) error {
	return awaitBroadcast(ctx, "check-updates",
		[]pcommon.Action{pcommon.CacheChecked, pcommon.CacheUpdatedWithChanges},
		func(bg context.Context, c agentClient) error { return c.CheckForUpdates(bg, false) },
		func(params json.RawMessage) string {
			var ev pcommon.CacheCheckEvent
			if err := json.Unmarshal(params, &ev); err != nil || !ev.HasUpdates {
				return "Assets are up to date"
			}
			return fmt.Sprintf("Updated assets:\n  %s", strings.Join(ev.UpdatedURLs, "\n  "))
		})
}

func updateCache(ctx *cli.Context) error {
	return awaitBroadcast(ctx, "update-cache",
		[]pcommon.Action{pcommon.CacheUpdated},
		func(bg context.Context, c agentClient) error { return c.UpdateCache(bg) },
		func(json.RawMessage) string { return "Runtime cache cleared" })
}

// awaitBroadcast sends a fire-and-forget request and prints the first of
// the given broadcasts the agent sends back.
func awaitBroadcast(ctx *cli.Context, name string, actions []pcommon.Action, send func(context.Context, agentClient) error, render func(json.RawMessage) string) error {
	e, err := loadEnv()
	if err != nil {
		common.PrintRuntimeErr(ctx, name, "load_env", err)
		return nil
	}
	bg, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	c, err := dialAgent(bg, e.cfg.SocketPath)
	if err != nil {
		common.PrintRuntimeErr(ctx, name, "dial", err)
		return nil
	}
	defer c.Close()

	got := make(chan json.RawMessage, 1)
	for _, a := range actions {
		c.Dispatcher().AddHandler(a, agentcli.HandlerFunc(func(m json.RawMessage) error {
			select {
			case got <- m:
			default:
			}
			return nil
		}))
	}
	if err := send(bg, c); err != nil {
		common.PrintRuntimeErr(ctx, name, "send", err)
		return nil
	}
	select {
	case m := <-got:
		fmt.Fprintln(ctx.App.Writer, render(m))
	case <-bg.Done():
		common.PrintRuntimeErr(ctx, name, "wait", fmt.Errorf("no answer from agent within %v", eventTimeout))
	}
	return nil
}
