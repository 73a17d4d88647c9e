package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ngdp-go/casc/cache"
	"github.com/ngdp-go/casc/combinedindex"
	"github.com/ngdp-go/casc/keyservice"
	"github.com/ngdp-go/casc/manifest/encoding"
	"github.com/ngdp-go/casc/manifest/root"
	"github.com/ngdp-go/casc/resolver"
	"github.com/ngdp-go/casc/transport/tact"
)

func newCmd_Resolve() *cli.Command {
	return &cli.Command{
		Name:        "resolve",
		Usage:       "Resolve a name or FileDataID through a root+encoding manifest pair to decoded bytes.",
		Description: "Resolve a name or FileDataID through a root+encoding manifest pair to decoded bytes.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a YAML config file"},
			&cli.StringFlag{Name: "root", Required: true, Usage: "path to a local root manifest file"},
			&cli.StringFlag{Name: "encoding", Required: true, Usage: "path to a local encoding manifest file"},
			&cli.StringFlag{Name: "name", Usage: "file path to resolve (mutually exclusive with --fdid)"},
			&cli.Uint64Flag{Name: "fdid", Usage: "FileDataID to resolve (mutually exclusive with --name)"},
			&cli.Uint64Flag{Name: "locale-mask", Value: 0xFFFFFFFF, Usage: "locale mask to select a record"},
			&cli.Uint64Flag{Name: "content-mask", Value: 0, Usage: "content flags mask to select a record"},
			&cli.StringFlag{Name: "out", Usage: "output file path (default: stdout)"},
			&cli.StringSliceFlag{Name: "cdn-host", Usage: "CDN host(s) to fetch archive data from, in priority order"},
		},
		Action: actionResolve,
	}
}

func actionResolve(c *cli.Context) error {
	cfg, err := LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	rootBuf, err := os.ReadFile(c.String("root"))
	if err != nil {
		return fmt.Errorf("reading root manifest: %w", err)
	}
	rm, err := root.Parse(rootBuf)
	if err != nil {
		return fmt.Errorf("parsing root manifest: %w", err)
	}

	encBuf, err := os.ReadFile(c.String("encoding"))
	if err != nil {
		return fmt.Errorf("reading encoding manifest: %w", err)
	}
	em, err := encoding.Parse(encBuf)
	if err != nil {
		return fmt.Errorf("parsing encoding manifest: %w", err)
	}

	hosts := c.StringSlice("cdn-host")
	if len(hosts) == 0 {
		hosts = cfg.TACTHosts
	}
	ft := tact.New(hosts, cfg.CDNPathRoot)

	diskCache, err := cache.NewDiskCache(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("opening disk cache: %w", err)
	}
	memCache := cache.NewMemCache(64 << 20)
	layered := cache.NewLayered(memCache, diskCache)

	opts := []resolver.Option{resolver.WithMaxInFlight(cfg.MaxInFlight)}
	if cfg.TACTKeyFile != "" {
		ks, err := keyservice.LoadFile(cfg.TACTKeyFile)
		if err != nil {
			return fmt.Errorf("loading TACT keys: %w", err)
		}
		opts = append(opts, resolver.WithKeyService(ks))
	}

	res := resolver.New(rm, em, combinedindex.New(), ft, layered, opts...)

	req := resolver.Request{
		Name:        c.String("name"),
		FDID:        uint32(c.Uint64("fdid")),
		LocaleMask:  uint32(c.Uint64("locale-mask")),
		ContentMask: c.Uint64("content-mask"),
	}
	if req.Name == "" && req.FDID == 0 {
		return fmt.Errorf("resolve: one of --name or --fdid is required")
	}

	decoded, err := res.Resolve(c.Context, req)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	return writeOrPrint(c, decoded)
}
