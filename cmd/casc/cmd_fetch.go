package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/ngdp-go/casc/transport"
	"github.com/ngdp-go/casc/transport/ribbit"
	"github.com/ngdp-go/casc/transport/tact"
)

func newCmd_Fetch() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Fetch a blob/range by hash from a CDN host, or a BPSV endpoint from a Ribbit host.",
		Subcommands: []*cli.Command{
			newCmd_FetchBlob(),
			newCmd_FetchText(),
		},
	}
}

func newCmd_FetchBlob() *cli.Command {
	return &cli.Command{
		Name:  "blob",
		Usage: "Fetch a single blob (or byte range) by hash from a CDN host.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a YAML config file"},
			&cli.StringSliceFlag{Name: "cdn-host", Usage: "CDN host(s), in priority order"},
			&cli.StringFlag{Name: "kind", Value: "data", Usage: "config, data or patch"},
			&cli.StringFlag{Name: "hash", Required: true, Usage: "hex-encoded content/encoding key"},
			&cli.Int64Flag{Name: "range-start", Value: -1, Usage: "inclusive byte range start (requires --range-end)"},
			&cli.Int64Flag{Name: "range-end", Value: -1, Usage: "inclusive byte range end"},
			&cli.BoolFlag{Name: "parallel", Usage: "stream the blob via concurrent ranged GETs instead of one request (large standalone objects)"},
			&cli.StringFlag{Name: "out", Usage: "output file path (default: stdout)"},
		},
		Action: actionFetchBlob,
	}
}

func actionFetchBlob(c *cli.Context) error {
	cfg, err := LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	hosts := c.StringSlice("cdn-host")
	if len(hosts) == 0 {
		hosts = cfg.TACTHosts
	}
	ft := tact.New(hosts, cfg.CDNPathRoot)

	kind := transport.Kind(c.String("kind"))
	hash := c.String("hash")

	if c.Bool("parallel") {
		out := c.String("out")
		if out == "" {
			return fmt.Errorf("fetch blob: --parallel requires --out")
		}
		rc, err := ft.FetchBlobParallel(c.Context, kind, hash)
		if err != nil {
			return fmt.Errorf("fetch blob: %w", err)
		}
		defer rc.Close()
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("fetch blob: creating %q: %w", out, err)
		}
		defer f.Close()
		n, err := io.Copy(f, rc)
		if err != nil {
			return fmt.Errorf("fetch blob: streaming to %q: %w", out, err)
		}
		fmt.Fprintf(c.App.ErrWriter, "wrote %s to %s\n", humanize.Bytes(uint64(n)), out)
		return nil
	}

	var data []byte
	if start, end := c.Int64("range-start"), c.Int64("range-end"); start >= 0 && end >= 0 {
		data, err = ft.FetchRange(c.Context, kind, hash, transport.ByteRange{Start: start, End: end})
	} else {
		data, err = ft.FetchBlob(c.Context, kind, hash)
	}
	if err != nil {
		return fmt.Errorf("fetch blob: %w", err)
	}

	return writeOrPrint(c, data)
}

func newCmd_FetchText() *cli.Command {
	return &cli.Command{
		Name:  "text",
		Usage: "Fetch a BPSV/version endpoint from a Ribbit host.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a YAML config file"},
			&cli.StringFlag{Name: "ribbit-host", Usage: "Ribbit host"},
			&cli.StringFlag{Name: "ribbit-version", Value: "v2", Usage: "v1 or v2 wire framing"},
			&cli.StringFlag{Name: "command", Required: true, Usage: "Ribbit command, e.g. v2/products/wow/versions"},
			&cli.StringFlag{Name: "out", Usage: "output file path (default: stdout)"},
		},
		Action: actionFetchText,
	}
}

func actionFetchText(c *cli.Context) error {
	cfg, err := LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	host := c.String("ribbit-host")
	if host == "" {
		host = cfg.RibbitHost
	}
	version := ribbit.V2
	if c.String("ribbit-version") == "v1" {
		version = ribbit.V1
	}

	body, err := ribbit.New(host, version).Request(c.Context, c.String("command"))
	if err != nil {
		return fmt.Errorf("fetch text: %w", err)
	}

	return writeOrPrint(c, []byte(body))
}

func writeOrPrint(c *cli.Context, data []byte) error {
	if out := c.String("out"); out != "" {
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		fmt.Fprintf(c.App.ErrWriter, "wrote %s to %s\n", humanize.Bytes(uint64(len(data))), out)
		return nil
	}
	_, err := os.Stdout.Write(data)
	return err
}
