// Package cmd provides CLI commands for the wsfs binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags.
var (
	// ConfigFlag points at a wsfs.yaml file. Flags override its values.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to wsfs.yaml",
		EnvVars: []string{"WSFS_CONFIG"},
	}

	// LogLevelFlag sets the minimum log level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}

	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}
)

// CommonFlags returns the flags every command accepts.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		LogLevelFlag,
		FormatFlag,
	}
}

func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "storage-backend",
			Usage: "Storage backend: fs, s3 or memory",
		},
		&cli.StringFlag{
			Name:  "storage-path",
			Usage: "Storage path (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "storage-dataset",
			Usage: "Transfer ledger dataset id",
		},
		&cli.StringFlag{
			Name:  "s3-region",
			Usage: "AWS region for the s3 backend (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "s3-endpoint",
			Usage: "Custom S3 endpoint (MinIO, R2, LocalStack)",
		},
		&cli.BoolFlag{
			Name:  "s3-path-style",
			Usage: "Use path-style S3 addressing",
		},
	}
}

func adapterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Notification adapter: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Webhook URL or Redis URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis channel (redis adapter only)",
		},
		&cli.StringSliceFlag{
			Name:  "adapter-header",
			Usage: "Webhook header as 'Key: Value' (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Per-publish timeout",
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Publish retry attempts",
		},
	}
}

func withFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
