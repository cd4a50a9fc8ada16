package cmd

import "github.com/urfave/cli/v2"

// Commands returns every wsfs command.
func Commands(commit string) []*cli.Command {
	return []*cli.Command{
		ServeCommand(),
		UploadCommand(),
		ReceiveCommand(),
		InfoCommand(),
		HistoryCommand(),
		FilesCommand(),
		VersionCommand(commit),
	}
}
