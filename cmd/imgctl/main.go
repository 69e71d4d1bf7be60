// Command imgctl manages entries of a social-image server from the shell.
//
//	imgctl --api-key s3cret create card.svg
//	imgctl get 3f/Kq...Zx --out card.png
//	imgctl render card.svg --resource logo.png=./logo.png --out preview.png
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ruteri/social-image/api/clients"
	"github.com/ruteri/social-image/cmd/flags"
	"github.com/ruteri/social-image/interfaces"
	"github.com/urfave/cli/v2"
)

var logger *slog.Logger

var outFlag = &cli.StringFlag{
	Name:    "out",
	Aliases: []string{"o"},
	Usage:   "write the PNG to this file instead of stdout",
}

func main() {
	app := &cli.App{
		Name:  "imgctl",
		Usage: "Client for the social-image API",
		Flags: append([]cli.Flag{flags.ServerAddrFlag, flags.APIKeyFlag}, flags.LogFlags...),
		Before: func(cCtx *cli.Context) error {
			logger = flags.SetupStderrLogger(cCtx)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "upload an SVG document as a new entry",
				ArgsUsage: "<svg-file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Value: interfaces.IDModeUnique.String(),
						Usage: "identifier mode: 'unique' or 'content'",
					},
				},
				Action: func(cCtx *cli.Context) error {
					mode, err := interfaces.ParseIDMode(cCtx.String("mode"))
					if err != nil {
						return err
					}
					svg, err := readArgFile(cCtx, 0)
					if err != nil {
						return err
					}

					id, err := newClient(cCtx).Create(cCtx.Context, svg, mode)
					if err != nil {
						return err
					}
					logger.Debug("Created entry", "entryID", id, "mode", mode.String())
					fmt.Println(id.Path())
					return nil
				},
			},
			{
				Name:      "get",
				Usage:     "download the rendered PNG of an entry",
				ArgsUsage: "<id>",
				Flags:     []cli.Flag{outFlag},
				Action: func(cCtx *cli.Context) error {
					id, err := parseIDArg(cCtx, 0)
					if err != nil {
						return err
					}
					png, err := newClient(cCtx).Get(cCtx.Context, id)
					if err != nil {
						return err
					}
					return writeOutput(cCtx, png)
				},
			},
			{
				Name:      "update",
				Usage:     "replace the SVG source of an entry",
				ArgsUsage: "<id> <svg-file>",
				Action: func(cCtx *cli.Context) error {
					id, err := parseIDArg(cCtx, 0)
					if err != nil {
						return err
					}
					svg, err := readArgFile(cCtx, 1)
					if err != nil {
						return err
					}
					return newClient(cCtx).Update(cCtx.Context, id, svg)
				},
			},
			{
				Name:      "attach",
				Usage:     "attach a resource referenced by the SVG",
				ArgsUsage: "<id> <name> <file>",
				Action: func(cCtx *cli.Context) error {
					id, err := parseIDArg(cCtx, 0)
					if err != nil {
						return err
					}
					name := cCtx.Args().Get(1)
					data, err := readArgFile(cCtx, 2)
					if err != nil {
						return err
					}
					return newClient(cCtx).Attach(cCtx.Context, id, name, data)
				},
			},
			{
				Name:      "delete",
				Usage:     "delete an entry",
				ArgsUsage: "<id>",
				Action: func(cCtx *cli.Context) error {
					id, err := parseIDArg(cCtx, 0)
					if err != nil {
						return err
					}
					return newClient(cCtx).Delete(cCtx.Context, id)
				},
			},
			{
				Name:      "render",
				Usage:     "render an SVG document without storing it",
				ArgsUsage: "<svg-file>",
				Flags: []cli.Flag{
					outFlag,
					&cli.StringSliceFlag{
						Name:  "resource",
						Usage: "resource as name=path, repeatable",
					},
				},
				Action: func(cCtx *cli.Context) error {
					svg, err := readArgFile(cCtx, 0)
					if err != nil {
						return err
					}
					resources, err := readResources(cCtx.StringSlice("resource"))
					if err != nil {
						return err
					}
					png, err := newClient(cCtx).Render(cCtx.Context, svg, resources)
					if err != nil {
						return err
					}
					return writeOutput(cCtx, png)
				},
			},
		},
	}

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) *clients.ImagesClient {
	logger.Debug("Using server", "server", cCtx.String(flags.ServerAddrFlag.Name))
	return clients.NewImagesClient(cCtx.String(flags.ServerAddrFlag.Name), cCtx.String(flags.APIKeyFlag.Name))
}

// parseIDArg accepts an identifier as 44 characters, as <shard>/<name> or as
// an /images/<shard>/<name> URL path.
func parseIDArg(cCtx *cli.Context, i int) (interfaces.EntryID, error) {
	arg := cCtx.Args().Get(i)
	if arg == "" {
		return "", fmt.Errorf("missing identifier argument")
	}
	arg = strings.TrimPrefix(arg, "/images/")
	return interfaces.ParseEntryID(strings.ReplaceAll(arg, "/", ""))
}

func readArgFile(cCtx *cli.Context, i int) ([]byte, error) {
	path := cCtx.Args().Get(i)
	if path == "" {
		return nil, fmt.Errorf("missing file argument %d", i+1)
	}
	return os.ReadFile(path)
}

func readResources(specs []string) (map[string][]byte, error) {
	resources := make(map[string][]byte, len(specs))
	for _, spec := range specs {
		name, path, ok := strings.Cut(spec, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("resource %q must be name=path", spec)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		resources[name] = data
	}
	return resources, nil
}

func writeOutput(cCtx *cli.Context, png []byte) error {
	out := cCtx.String(outFlag.Name)
	if out == "" {
		_, err := os.Stdout.Write(png)
		return err
	}
	if err := os.WriteFile(out, png, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s to %s\n", humanize.Bytes(uint64(len(png))), out)
	return nil
}
