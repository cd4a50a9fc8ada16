package cmd

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/wsfs/cli/render"
	"github.com/pithecene-io/wsfs/storage"
)

// HistoryCommand returns the history command.
// History lists transfer ledger records, newest first.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded transfers",
		Flags: withFlags(CommonFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:  "day",
				Usage: "Only transfers on this UTC day (YYYY-MM-DD)",
			},
			&cli.StringFlag{
				Name:  "direction",
				Usage: "Only received or uploaded transfers",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of records (0 = no limit)",
			},
		}, storageFlags()),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	storeCfg, err := storageConfig(c, cfg.Storage)
	if err != nil {
		return configError("%v", err)
	}
	switch d := c.String("direction"); d {
	case "", storage.DirectionReceived, storage.DirectionUploaded:
	default:
		return configError("invalid direction %q (must be %s or %s)", d, storage.DirectionReceived, storage.DirectionUploaded)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return configError("%v", err)
	}

	store, err := storage.Open(c.Context, storeCfg)
	if err != nil {
		return failure("open storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	records, err := store.QueryTransfers(c.Context, storage.TransferFilter{
		Day:       c.String("day"),
		Direction: c.String("direction"),
		Limit:     c.Int("limit"),
	})
	if errors.Is(err, storage.ErrNoTransfers) {
		return r.Render([]map[string]any{})
	}
	if err != nil {
		return failure("query transfers: %v", err)
	}
	return r.Render(records)
}
