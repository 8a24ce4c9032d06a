package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/comicshelf/pagemask/internal/helper"
	"github.com/comicshelf/pagemask/mask"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	version  bool   // show version
	filename string // read config from the filename

	Addr              string   `json:"addr"`                // proxy listen addr
	Upstream          string   `json:"upstream"`            // reverse mode target
	Markers           []string `json:"markers"`             // url markers of masked resources
	Hosts             []string `json:"hosts"`               // restrict markers to these hosts
	Mask              int      `json:"mask"`                // xor byte
	StripHeaders      bool     `json:"strip_headers"`       // only send status and length for masked flows
	StreamLargeBodies int64    `json:"stream_large_bodies"` // stream bodies from this size, 0 buffers everything
	SslInsecure       bool     `json:"ssl_insecure"`        // not verify upstream server SSL/TLS certificates
	H2C               bool     `json:"h2c"`                 // accept cleartext HTTP/2
	Debug             int      `json:"debug"`               // debug mode
	LogFile           string   `json:"log_file"`            // rotated log file
	Dump              string   `json:"dump"`                // dump filename
	DumpLevel         int      `json:"dump_level"`          // dump level
	WebAddr           string   `json:"web_addr"`            // flow monitor listen addr, empty disables it
	ProxyAuth         string   `json:"proxy_auth"`          // user:pass|user2:pass2
}

// loadConfigFromFile reads a JSON config. Keys the file leaves out keep
// their default.
func loadConfigFromFile(filename string) (*Config, error) {
	config := defaultConfig()
	if err := helper.NewStructFromFile(filename, config); err != nil {
		return nil, err
	}
	return config, nil
}

func newFlagSet(config *Config, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("pagemask", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.BoolVar(&config.version, "version", false, "show pagemask version")
	fs.StringVar(&config.Addr, "addr", "", "proxy listen addr (default \":9080\")")
	fs.StringVar(&config.Upstream, "upstream", "", "reverse mode: send origin-form requests to this base url")
	fs.Var((*arrayValue)(&config.Markers), "marker", "url marker of masked resources, glob allowed (default \"/comic/\")")
	fs.Var((*arrayValue)(&config.Hosts), "host", "only mask resources of this host")
	fs.IntVar(&config.Mask, "mask", 0, "xor byte, 1..255 (default 0xFF)")
	fs.BoolVar(&config.StripHeaders, "strip_headers", false, "only send status and length for masked resources")
	fs.Int64Var(&config.StreamLargeBodies, "stream_large_bodies", -1, "stream bodies from this size in bytes, 0 buffers everything (default 0)")
	fs.BoolVar(&config.SslInsecure, "ssl_insecure", false, "not verify upstream server SSL/TLS certificates.")
	fs.BoolVar(&config.H2C, "h2c", false, "accept cleartext HTTP/2")
	fs.IntVar(&config.Debug, "debug", 0, "debug mode: 1 - print debug log, 2 - show debug from")
	fs.StringVar(&config.LogFile, "log_file", "", "rotated log file, stdout when empty")
	fs.StringVar(&config.Dump, "dump", "", "dump filename")
	fs.IntVar(&config.DumpLevel, "dump_level", 0, "dump level: 0 - request, 1 - request + response headers")
	fs.StringVar(&config.WebAddr, "web_addr", "", "flow monitor listen addr")
	fs.StringVar(&config.ProxyAuth, "proxy_auth", "", "basic auth for forward mode, user:pass|user2:pass2")
	fs.StringVar(&config.filename, "f", "", "read config from the filename")

	return fs
}

func loadConfigFromCli(args []string, output io.Writer) (*Config, error) {
	config := new(Config)
	if err := newFlagSet(config, output).Parse(args); err != nil {
		return nil, err
	}
	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Addr: ":9080",
		Mask: int(mask.Default),
	}
}

// mergeConfigs lays cli values over file values. Unset cli values keep
// what the file says.
func mergeConfigs(fileConfig, cliConfig *Config) *Config {
	config := new(Config)
	*config = *fileConfig
	config.version = cliConfig.version
	config.filename = cliConfig.filename

	if cliConfig.Addr != "" {
		config.Addr = cliConfig.Addr
	}
	if cliConfig.Upstream != "" {
		config.Upstream = cliConfig.Upstream
	}
	if len(cliConfig.Markers) > 0 {
		config.Markers = cliConfig.Markers
	}
	if len(cliConfig.Hosts) > 0 {
		config.Hosts = cliConfig.Hosts
	}
	if cliConfig.Mask != 0 {
		config.Mask = cliConfig.Mask
	}
	if cliConfig.StripHeaders {
		config.StripHeaders = cliConfig.StripHeaders
	}
	if cliConfig.StreamLargeBodies >= 0 {
		config.StreamLargeBodies = cliConfig.StreamLargeBodies
	}
	if cliConfig.SslInsecure {
		config.SslInsecure = cliConfig.SslInsecure
	}
	if cliConfig.H2C {
		config.H2C = cliConfig.H2C
	}
	if cliConfig.Debug != 0 {
		config.Debug = cliConfig.Debug
	}
	if cliConfig.LogFile != "" {
		config.LogFile = cliConfig.LogFile
	}
	if cliConfig.Dump != "" {
		config.Dump = cliConfig.Dump
	}
	if cliConfig.DumpLevel != 0 {
		config.DumpLevel = cliConfig.DumpLevel
	}
	if cliConfig.WebAddr != "" {
		config.WebAddr = cliConfig.WebAddr
	}
	if cliConfig.ProxyAuth != "" {
		config.ProxyAuth = cliConfig.ProxyAuth
	}
	return config
}

func loadConfig(args []string, output io.Writer) (*Config, error) {
	cliConfig, err := loadConfigFromCli(args, output)
	if err != nil {
		return nil, err
	}
	if cliConfig.version {
		return cliConfig, nil
	}

	fileConfig := defaultConfig()
	if cliConfig.filename != "" {
		fileConfig, err = loadConfigFromFile(cliConfig.filename)
		if err != nil {
			return nil, fmt.Errorf("read config from %v: %w", cliConfig.filename, err)
		}
		log.Debugf("config loaded from %v", cliConfig.filename)
	}

	config := mergeConfigs(fileConfig, cliConfig)
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if _, err := mask.Parse(c.Mask); err != nil {
		return err
	}
	if c.StreamLargeBodies < 0 {
		return fmt.Errorf("invalid stream_large_bodies %v", c.StreamLargeBodies)
	}
	if c.DumpLevel != 0 && c.DumpLevel != 1 {
		return fmt.Errorf("invalid dump_level %v", c.DumpLevel)
	}
	if c.Debug < 0 || c.Debug > 2 {
		return fmt.Errorf("invalid debug %v", c.Debug)
	}
	for _, m := range c.Markers {
		if m == "" {
			return errors.New("empty marker")
		}
	}
	return nil
}

// arrayValue implements flag.Value for repeated flags
type arrayValue []string

func (a *arrayValue) String() string {
	return fmt.Sprint(*a)
}

func (a *arrayValue) Set(value string) error {
	*a = append(*a, value)
	return nil
}
