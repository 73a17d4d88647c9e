package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/ngdp-go/casc/cache"
	"github.com/ngdp-go/casc/casckey"
	"github.com/ngdp-go/casc/combinedindex"
	"github.com/ngdp-go/casc/keyservice"
	"github.com/ngdp-go/casc/manifest/download"
	"github.com/ngdp-go/casc/manifest/encoding"
	"github.com/ngdp-go/casc/manifest/install"
	"github.com/ngdp-go/casc/manifest/root"
	"github.com/ngdp-go/casc/resolver"
	"github.com/ngdp-go/casc/transport/tact"
)

func newCmd_Install() *cli.Command {
	return &cli.Command{
		Name:        "install",
		Usage:       "List the keys a partial install would need, driven by an install or download manifest.",
		Description: "List the keys a partial install would need: content keys from an install manifest (exact tags) or encoding keys from a download manifest (priority threshold).",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "install-manifest", Usage: "path to a local install manifest file"},
			&cli.StringFlag{Name: "download-manifest", Usage: "path to a local download manifest file"},
			&cli.StringFlag{Name: "tags", Usage: "comma-separated tag names (install-driven mode)"},
			&cli.StringFlag{Name: "combine", Value: "and", Usage: "and or or, how --tags combine (install-driven mode)"},
			&cli.Int64Flag{Name: "priority-threshold", Value: 0, Usage: "priority band cutoff (download-driven mode)"},
			&cli.BoolFlag{Name: "fetch", Usage: "fetch and cache every selected key instead of only listing it"},
			&cli.StringFlag{Name: "config", Usage: "path to a YAML config file (required with --fetch)"},
			&cli.StringFlag{Name: "root", Usage: "path to a local root manifest file (required with --fetch)"},
			&cli.StringFlag{Name: "encoding-manifest", Usage: "path to a local encoding manifest file (required with --fetch)"},
			&cli.StringSliceFlag{Name: "cdn-host", Usage: "CDN host(s) to fetch archive data from, in priority order"},
		},
		Action: actionInstall,
	}
}

func actionInstall(c *cli.Context) error {
	installPath := c.String("install-manifest")
	downloadPath := c.String("download-manifest")
	if (installPath == "") == (downloadPath == "") {
		return fmt.Errorf("install: exactly one of --install-manifest or --download-manifest is required")
	}

	var ckeys []casckey.Key
	var labels []string

	if installPath != "" {
		buf, err := os.ReadFile(installPath)
		if err != nil {
			return fmt.Errorf("reading install manifest: %w", err)
		}
		m, err := install.Parse(buf)
		if err != nil {
			return fmt.Errorf("parsing install manifest: %w", err)
		}

		mode := install.CombineAND
		if strings.EqualFold(c.String("combine"), "or") {
			mode = install.CombineOR
		}
		var tags []string
		if raw := c.String("tags"); raw != "" {
			tags = strings.Split(raw, ",")
		}

		indices, err := m.SelectEntries(tags, mode)
		if err != nil {
			return fmt.Errorf("selecting install entries: %w", err)
		}
		for _, idx := range indices {
			e := m.Entries[idx]
			ckeys = append(ckeys, e.CKey)
			labels = append(labels, e.Path)
		}
	} else {
		buf, err := os.ReadFile(downloadPath)
		if err != nil {
			return fmt.Errorf("reading download manifest: %w", err)
		}
		m, err := download.Parse(buf)
		if err != nil {
			return fmt.Errorf("parsing download manifest: %w", err)
		}
		indices := m.SelectByPriority(int16(c.Int64("priority-threshold")))
		for _, idx := range indices {
			e := m.Entries[idx]
			labels = append(labels, e.EKey.String())
		}
		// Download-driven selection yields EKeys, not CKeys, so only the
		// EKey list is printed; --fetch is rejected below in this mode.
	}

	if !c.Bool("fetch") {
		for i, label := range labels {
			if installPath != "" {
				fmt.Printf("%s\t%s\n", ckeys[i], label)
			} else {
				fmt.Println(label)
			}
		}
		return nil
	}

	if installPath == "" {
		return fmt.Errorf("install: --fetch with --download-manifest requires resolving via an encoding manifest; pass --install-manifest or fetch by EKey with 'casc fetch blob'")
	}

	return fetchSelected(c, ckeys, labels)
}

// fetchSelected resolves and caches every ckey in turn, reporting progress
// on a multi-bar display.
func fetchSelected(c *cli.Context, ckeys []casckey.Key, labels []string) error {
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
	encBuf, err := os.ReadFile(c.String("encoding-manifest"))
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
	layered := cache.NewLayered(cache.NewMemCache(64<<20), diskCache)

	opts := []resolver.Option{resolver.WithMaxInFlight(cfg.MaxInFlight)}
	if cfg.TACTKeyFile != "" {
		ks, err := keyservice.LoadFile(cfg.TACTKeyFile)
		if err != nil {
			return fmt.Errorf("loading TACT keys: %w", err)
		}
		opts = append(opts, resolver.WithKeyService(ks))
	}
	res := resolver.New(rm, em, combinedindex.New(), ft, layered, opts...)

	p := mpb.New(mpb.WithWidth(64))
	bar := p.AddBar(int64(len(ckeys)),
		mpb.PrependDecorators(decor.Name("install", decor.WC{W: 8})),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d"), decor.Percentage()),
	)

	var failed int
	for i, ckey := range ckeys {
		if _, err := res.ResolveCKey(c.Context, ckey); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", labels[i], err)
			failed++
		}
		bar.Increment()
	}
	p.Wait()

	if failed > 0 {
		return fmt.Errorf("install: %d of %d key(s) failed to fetch", failed, len(ckeys))
	}
	return nil
}
