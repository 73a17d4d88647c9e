package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ngdp-go/casc/blte"
	"github.com/ngdp-go/casc/keyservice"
)

func newCmd_DumpBLTE() *cli.Command {
	return &cli.Command{
		Name:        "dump-blte",
		Usage:       "Decode a local BLTE file to plaintext, optionally ignoring per-chunk checksums.",
		Description: "Decode a local BLTE file to plaintext. --skip-checksum is recovery tooling only, never for normal resolution.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Required: true, Usage: "path to a BLTE-encoded file"},
			&cli.StringFlag{Name: "out", Usage: "output file path (default: stdout)"},
			&cli.StringFlag{Name: "tact-keys", Usage: "path to a TACTKeys file for mode 'E' chunks"},
			&cli.BoolFlag{Name: "skip-checksum", Usage: "disable per-chunk MD5 verification (recovery only)"},
		},
		Action: actionDumpBLTE,
	}
}

func actionDumpBLTE(c *cli.Context) error {
	payload, err := os.ReadFile(c.String("in"))
	if err != nil {
		return fmt.Errorf("dump-blte: reading %q: %w", c.String("in"), err)
	}

	opts := blte.Options{SkipChecksum: c.Bool("skip-checksum")}
	if keysPath := c.String("tact-keys"); keysPath != "" {
		ks, err := keyservice.LoadFile(keysPath)
		if err != nil {
			return fmt.Errorf("dump-blte: loading TACT keys: %w", err)
		}
		opts.KeyService = ks
	}

	decoded, err := blte.Decode(payload, opts)
	if err != nil {
		return fmt.Errorf("dump-blte: %w", err)
	}

	return writeOrPrint(c, decoded)
}
