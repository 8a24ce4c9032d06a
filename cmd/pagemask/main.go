package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/comicshelf/pagemask/addon"
	"github.com/comicshelf/pagemask/addon/web"
	"github.com/comicshelf/pagemask/internal/logging"
	"github.com/comicshelf/pagemask/mask"
	"github.com/comicshelf/pagemask/proxy"
	log "github.com/sirupsen/logrus"
)

func newProxy(config *Config) (*proxy.Proxy, error) {
	opts := &proxy.Options{
		Addr:              config.Addr,
		Upstream:          config.Upstream,
		StreamLargeBodies: config.StreamLargeBodies,
		SslInsecure:       config.SslInsecure,
		H2C:               config.H2C,
	}

	p, err := proxy.NewProxy(opts)
	if err != nil {
		return nil, err
	}

	if config.ProxyAuth != "" {
		auth, err := NewDefaultBasicAuth(config.ProxyAuth)
		if err != nil {
			return nil, err
		}
		p.SetAuthProxy(auth.EntryAuth)
	}

	p.AddAddon(&proxy.LogAddon{})

	markers := config.Markers
	if len(markers) == 0 {
		markers = []string{addon.DefaultMarker}
	}
	x, err := mask.Parse(config.Mask)
	if err != nil {
		return nil, err
	}
	m, err := addon.NewMask(addon.NewRules(markers, config.Hosts), x, config.StripHeaders)
	if err != nil {
		return nil, err
	}
	p.AddAddon(m)
	log.Infof("mask %v on %v", m.XOR, m.Rules)

	if config.Dump != "" {
		dumper, err := addon.NewDumperWithFile(config.Dump, config.DumpLevel)
		if err != nil {
			return nil, err
		}
		p.AddAddon(dumper)
	}

	if config.WebAddr != "" {
		p.AddAddon(web.NewWebAddon(config.WebAddr))
	}

	return p, nil
}

func main() {
	config, err := loadConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatal(err)
	}

	if config.version {
		fmt.Println("pagemask: " + proxy.Version)
		os.Exit(0)
	}

	if err := logging.Init(logging.Options{Debug: config.Debug, File: config.LogFile}); err != nil {
		log.Fatal(err)
	}

	p, err := newProxy(config)
	if err != nil {
		log.Fatal(err)
	}

	if p.Opts.Upstream != "" {
		log.Infof("pagemask version %v, reverse proxy for %v\n", p.Version, p.Opts.Upstream)
	} else {
		log.Infof("pagemask version %v, forward proxy\n", p.Version)
	}

	log.Fatal(p.Start())
}
