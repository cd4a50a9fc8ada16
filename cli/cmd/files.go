package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/wsfs/cli/render"
	"github.com/pithecene-io/wsfs/iox"
	"github.com/pithecene-io/wsfs/storage"
)

// StoredFile is one stored file body.
type StoredFile struct {
	Path    string `json:"path"`
	Deleted bool   `json:"deleted,omitempty"`
}

// FilesCommand returns the files command.
// Without --path it lists stored file bodies. With --path it writes the
// body (or the --offset/--length range of it) to stdout or --out, or
// removes it with --delete.
func FilesCommand() *cli.Command {
	return &cli.Command{
		Name:  "files",
		Usage: "List, read or delete stored files",
		Flags: withFlags(CommonFlags(), []cli.Flag{
			&cli.StringFlag{
				Name:  "path",
				Usage: "Storage path of a file (as listed)",
			},
			&cli.Int64Flag{
				Name:  "offset",
				Usage: "Start of the range to read",
			},
			&cli.Int64Flag{
				Name:  "length",
				Usage: "Length of the range to read (0 = whole file)",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Write the file here instead of stdout",
			},
			&cli.BoolFlag{
				Name:  "delete",
				Usage: "Delete the file",
			},
		}, storageFlags()),
		Action: filesAction,
	}
}

func filesAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	storeCfg, err := storageConfig(c, cfg.Storage)
	if err != nil {
		return configError("%v", err)
	}
	p := c.String("path")
	if p == "" && (c.IsSet("offset") || c.IsSet("length") || c.IsSet("out") || c.Bool("delete")) {
		return configError("--offset, --length, --out and --delete require --path")
	}
	if c.Int64("offset") < 0 || c.Int64("length") < 0 {
		return configError("--offset and --length must be >= 0")
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

	if p == "" {
		paths, err := store.ListFiles(c.Context)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return failure("list files: %v", err)
		}
		files := make([]StoredFile, 0, len(paths))
		for _, path := range paths {
			files = append(files, StoredFile{Path: path})
		}
		return r.Render(files)
	}

	ok, err := store.Exists(c.Context, p)
	if err != nil {
		return failure("%v", err)
	}
	if !ok {
		return failure("stored file %q not found", p)
	}

	if c.Bool("delete") {
		if err := store.DeleteFile(c.Context, p); err != nil {
			return failure("%v", err)
		}
		return r.Render(StoredFile{Path: p, Deleted: true})
	}

	out := io.Writer(os.Stdout)
	if name := c.String("out"); name != "" {
		f, err := os.Create(name)
		if err != nil {
			return failure("create %s: %v", name, err)
		}
		defer iox.DiscardClose(f)
		out = f
	}
	if err := copyStored(c.Context, store, p, c.Int64("offset"), c.Int64("length"), out); err != nil {
		return failure("%v", err)
	}
	return nil
}

// copyStored writes a stored file, or a range of it when offset or length
// is set, to w.
func copyStored(ctx context.Context, store *storage.Store, p string, offset, length int64, w io.Writer) error {
	if offset == 0 && length == 0 {
		rc, err := store.GetFile(ctx, p)
		if err != nil {
			return err
		}
		defer iox.DiscardClose(rc)
		_, err = io.Copy(w, rc)
		return err
	}

	if length == 0 {
		rc, err := store.GetFile(ctx, p)
		if err != nil {
			return err
		}
		defer iox.DiscardClose(rc)
		if _, err := io.CopyN(io.Discard, rc, offset); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		_, err = io.Copy(w, rc)
		return err
	}

	data, err := store.ReadRange(ctx, p, offset, length)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
