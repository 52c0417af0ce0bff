package cmd

const HELP_TEMPL = `Usage: {{if .UsageText}}{{.UsageText}}{{else}}{{.HelpName}} {{if .VisibleFlags}}[global options]{{end}}{{if .Commands}} command [command options]{{end}} {{if .ArgsUsage}}{{.ArgsUsage}}{{else}}[arguments...]{{end}}{{end}}
{{.Description}}{{if .VisibleCommands}}
Commands:{{range .VisibleCategories}}{{if .Name}}

{{.Name}}:{{range .VisibleCommands}}
  {{join .Names ", "}}{{"\t"}}{{.Usage}}{{end}}{{else}}{{range .VisibleCommands}}
{{"\t"}}{{index .Names 0}}{{"\t:\t"}}{{.Usage}}{{end}}{{end}}{{end}}{{end}}

Use "{{.HelpName}} help <command>" for more information about any command.

`

const CMD_HELP_TEMPL = `{{if .Description}}{{.Description}}{{else}}{{.HelpName}} - {{.Usage}}

{{end}}Usage:
        {{.HelpName}} {{if .UsageText}}{{.UsageText}}{{else}}[arguments...]{{end}}{{if .VisibleFlags}}

Supported Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

`

const DESCRIPTION = `
TimePulse keeps countdowns, stopwatches and world clocks, notifies you when
a countdown finishes and syncs your timers across devices.
`

const AgentDescription = `The agent runs in the background. It fires countdown notifications,
serves the cached app assets and relays messages between open instances.
Foreground commands start it on demand.
`

const AddDescription = `Adds a timer and makes it active.

Countdowns need a target, given either as an absolute time with --at
("2026-12-31 23:59", "2026-12-31" or RFC 3339) or relative with --in
("1h30m"). Absolute times are read in --tz, or the local zone.
`

const ListDescription = `Lists every timer. The active one is marked with '*'.
`

const SyncDescription = `Sync mirrors your timers to a remote store under an id and password.
The remote copy expires 30 days after the last change. When two devices
disagree, the one that wrote last wins.
`

const ServeRemoteDescription = `Serves the remote store API from memory, for local testing of sync.
Documents are lost when the process exits.
`
