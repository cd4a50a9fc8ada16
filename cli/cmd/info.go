package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/wsfs/cli/render"
	"github.com/pithecene-io/wsfs/source"
)

// InfoResponse describes a file as it would be announced.
type InfoResponse struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	Mime         string    `json:"mime"`
	LastModified int64     `json:"lastModified"`
	ModifiedAt   time.Time `json:"modified_at"`
}

// InfoCommand returns the info command.
// Info reports the fileAnnounce fields for a local file without connecting.
func InfoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show the announce metadata for a local file",
		Flags: withFlags(CommonFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Usage:    "Path to the file",
				Required: true,
			},
		}),
		Action: infoAction,
	}
}

func infoAction(c *cli.Context) error {
	if _, err := loadConfig(c); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return configError("%v", err)
	}

	selection := source.NewSelection()
	defer func() { _ = selection.Close() }()

	info, err := selection.Select(c.String("file"))
	if err != nil {
		return failure("%v", err)
	}

	return r.Render(InfoResponse{
		Name:         info.Name,
		Size:         info.Size,
		Mime:         info.Mime,
		LastModified: info.LastModifiedMillis(),
		ModifiedAt:   info.LastModified.UTC(),
	})
}
