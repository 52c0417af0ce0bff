package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"

	"github.com/timepulse/timepulse/cmd/common"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

// currentBuildArgs is set by Execute so that commands can report and
// compare versions.
var currentBuildArgs BuildArgs

func Execute(args []string, bArgs BuildArgs) error {
	return newApp(bArgs).Run(args)
}

func newApp(bArgs BuildArgs) *cli.App {
	currentBuildArgs = bArgs
	app := cli.NewApp()
	app.Name = "timepulse"
	app.HelpName = "timepulse"
	app.Usage = "Countdowns, stopwatches and world clocks with desktop notifications."
	app.Version = fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType)
	app.UsageText = "timepulse <command> [arguments...]"
	app.Description = DESCRIPTION
	app.CustomAppHelpTemplate = HELP_TEMPL
	app.OnUsageError = common.UsageErrorCallback
	app.HideHelp = true
	app.HideVersion = true
	app.Commands = []cli.Command{
		{
			Name:               "agent",
			Usage:              "runs the background agent",
			Description:        AgentDescription,
			CustomHelpTemplate: CMD_HELP_TEMPL,
			Action:             runAgent,
		},
		{
			Name:               "stop-agent",
			Usage:              "stops the background agent",
			CustomHelpTemplate: CMD_HELP_TEMPL,
			Action:             stopAgent,
		},
		{
			Name:               "status",
			Aliases:            []string{"s"},
			Usage:              "shows what the agent is doing",
			CustomHelpTemplate: CMD_HELP_TEMPL,
			Action:             status,
		},
		{
			Name:                   "add",
			Aliases:                []string{"a"},
			Usage:                  "adds a timer",
			UsageText:              "add [flags] <name>",
			Description:            AddDescription,
			CustomHelpTemplate:     CMD_HELP_TEMPL,
			OnUsageError:           common.UsageErrorCallback,
			Flags:                  addFlags,
			UseShortOptionHandling: true,
			Action:                 add,
		},
		{
			Name:               "edit",
			Aliases:            []string{"e"},
			Usage:              "changes a timer",
			UsageText:          "edit [flags] <id>",
			CustomHelpTemplate: CMD_HELP_TEMPL,
			OnUsageError:       common.UsageErrorCallback,
			Flags:              editFlags,
			Action:             edit,
		},
		{
			Name:               "rm",
			Usage:              "removes a timer",
			UsageText:          "rm <id>",
			CustomHelpTemplate: CMD_HELP_TEMPL,
			Action:             remove,
		},
		{
			Name:               "select",
			Usage:              "makes a timer the active one",
			UsageText:          "select <id>",
			CustomHelpTemplate: CMD_HELP_TEMPL,
			Action:             selectTimer,
		},
		{
			Name:               "list",
			Aliases:            []string{"l", "ls"},
			Usage:              "lists your timers",
			Description:        ListDescription,
			CustomHelpTemplate: CMD_HELP_TEMPL,
			Action:             list,
		},
		{
			Name:               "watch",
			Aliases:            []string{"w"},
			Usage:              "follows a countdown until it finishes",
			UsageText:          "watch [id]",
			CustomHelpTemplate: CMD_HELP_TEMPL,
			Action:             watch,
		},
		{
			Name:        "sync",
			Usage:       "manages sync with the remote store",
			Description: SyncDescription,
			Subcommands: []cli.Command{
				{
					Name:      "set",
					Usage:     "stores sync credentials and pulls the remote timers",
					UsageText: "sync set <id> <password>",
					Action:    syncSet,
				},
				{
					Name:   "clear",
					Usage:  "forgets sync credentials",
					Action: syncClear,
				},
				{
					Name:   "status",
					Usage:  "shows the sync state",
					Action: syncStatus,
				},
			},
		},
		{
			Name:               "check-updates",
			Usage:              "asks the agent to revalidate the cached assets",
			CustomHelpTemplate: CMD_HELP_TEMPL,
			Action:             checkUpdates,
		},
		{
			Name:               "update-cache",
			Usage:              "asks the agent to drop its runtime cache",
			CustomHelpTemplate: CMD_HELP_TEMPL,
			Action:             updateCache,
		},
		{
			Name:               "serve-remote",
			Usage:              "serves an in-memory remote store for sync",
			Description:        ServeRemoteDescription,
			CustomHelpTemplate: CMD_HELP_TEMPL,
			Flags:              serveRemoteFlags,
			Action:             serveRemote,
		},
		{
			Name:    "help",
			Aliases: []string{"h"},
			Usage:   "prints the help message",
			Action:  common.Help,
		},
		{
			Name:               "version",
			Aliases:            []string{"v"},
			Usage:              "prints installed version of timepulse",
			UsageText:          " ",
			CustomHelpTemplate: CMD_HELP_TEMPL,
			Action:             common.GetVersion,
		},
	}
	app.Action = list
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app
}
