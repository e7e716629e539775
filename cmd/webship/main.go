package main

import (
	"log/slog"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/webship/cmd/webship/commands"
	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/version"
)

func main() {
	var cli commands.CLI
	global := &commands.Global{Logger: slog.Default()}
	parser := kong.Parse(&cli,
		kong.Bind(global),
		kong.Name("webship"),
		kong.Description("Build and publish web applications from git repositories."),
		kong.Vars{"version": version.String()},
		kong.UsageOnError(),
	)
	err := parser.Run(global, &cli)
	errors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
}
