package dnsbl

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coredns/caddy"
	"github.com/coredns/coredns/core/dnsserver"
	"github.com/coredns/coredns/plugin"

	"github.com/ipshipyard/dnsbl-cache/lookup"
	"github.com/ipshipyard/dnsbl-cache/resolver"
	"github.com/ipshipyard/dnsbl-cache/store"
	"github.com/ipshipyard/dnsbl-cache/watchlist"
)

const pluginName = "dnsbl"

// NameserversEnv overrides the nameservers directive when set, as a comma
// separated list.
const NameserversEnv = "DNSBL_NAMESERVERS"

const defaultAPIAddr = ":8080"

func init() { plugin.Register(pluginName, setup) }

func setup(c *caddy.Controller) error {
	cfg, err := parse(c)
	if err != nil {
		return plugin.Error(pluginName, err)
	}
	if err := store.CheckArgs(cfg.DatabaseType, cfg.DatabaseArgs...); err != nil {
		return plugin.Error(pluginName, err)
	}

	client, err := lookup.NewClient(cfg.Nameservers, cfg.Timeout)
	if err != nil {
		return plugin.Error(pluginName, err)
	}
	initMetrics()

	inst := &instance{
		cfg:    cfg,
		client: client,
		writer: &dnsblWriter{
			Addr:        cfg.APIAddr,
			Domain:      cfg.APIDomain,
			ExternalTLS: cfg.ExternalTLS,
			Users:       cfg.Users,
		},
		reader: &dnsblReader{ServeZone: cfg.ServeZone},
	}

	// The store is held from startup until the instance shuts down, which
	// after a successful reload happens once the new instance is running.
	// Restarting only pauses the API and the watchlist, so a failed reload
	// resumes them on the same store.
	c.OnStartup(inst.OnStartup)
	c.OnRestart(inst.pause)
	c.OnRestartFailed(inst.resume)
	c.OnShutdown(inst.OnShutdown)

	log.Infof("querying %s via %v with %d workers", cfg.Zone, client.Nameservers(), cfg.Workers)

	dnsserver.GetConfig(c).AddPlugin(func(next plugin.Handler) plugin.Handler {
		inst.reader.Next = next
		return inst.reader
	})

	return nil
}

// instance is the dnsbl plugin of one server instance.
type instance struct {
	cfg    *config
	client *lookup.Client
	writer *dnsblWriter
	reader *dnsblReader

	batch   *resolver.Batch
	wl      *watchlist.Watchlist
	release func() error
}

func (i *instance) OnStartup() error {
	st, release, err := acquireStore(i.cfg.DatabaseType, i.cfg.DatabaseArgs)
	if err != nil {
		return err
	}
	i.release = release

	i.batch = resolver.NewBatch(resolver.New(i.cfg.Zone, i.client, st), i.cfg.Workers)
	i.writer.Store = st
	i.writer.Batch = i.batch
	i.reader.Store = st

	if err := i.resume(); err != nil {
		return errors.Join(err, i.releaseStore())
	}
	return nil
}

// resume starts the API listener and the watchlist.
func (i *instance) resume() error {
	if err := i.writer.OnStartup(); err != nil {
		return err
	}
	if i.cfg.Watchlist.Path == "" {
		return nil
	}
	wl, err := watchlist.New(i.cfg.Watchlist, i.batch)
	if err != nil {
		return errors.Join(err, i.writer.Close())
	}
	i.wl = wl
	return nil
}

// pause stops the API listener and the watchlist. The store stays open.
func (i *instance) pause() error {
	var errs []error
	if i.wl != nil {
		errs = append(errs, i.wl.Close())
		i.wl = nil
	}
	errs = append(errs, i.writer.Close())
	return errors.Join(errs...)
}

func (i *instance) OnShutdown() error {
	return errors.Join(i.pause(), i.releaseStore())
}

func (i *instance) releaseStore() error {
	if i.release == nil {
		return nil
	}
	err := i.release()
	i.release = nil
	return err
}

// config is the parsed dnsbl block.
type config struct {
	Zone        string
	Nameservers []string
	Timeout     time.Duration
	Workers     int
	ServeZone   string

	APIAddr     string
	APIDomain   string
	ExternalTLS bool
	Users       map[string]string // user name -> bcrypt hash

	DatabaseType string
	DatabaseArgs []string

	Watchlist watchlist.Config
}

// parse parses the configuration from the Corefile
func parse(c *caddy.Controller) (*config, error) {
	/*
		Syntax is:
		dnsbl [blocklist-zone] {
		    nameservers <address>...
		    timeout <duration>
		    workers <n>
		    serve-zone <zone>
		    api [listen-address=<address>] [external-tls=<bool>] [domain=<name>]
		    user <name> <bcrypt-hash>
		    database-type memory | badger <db-path> | dynamo <table-name>
		    watchlist <path> [refresh=<duration>]
		}
	*/
	cfg := &config{
		Zone:         resolver.DefaultZone,
		Timeout:      lookup.DefaultTimeout,
		Workers:      resolver.DefaultWorkers,
		APIAddr:      defaultAPIAddr,
		ExternalTLS:  true,
		Users:        map[string]string{},
		DatabaseType: store.BackendMemory,
	}

	for c.Next() {
		args := c.RemainingArgs()
		switch len(args) {
		case 0:
		case 1:
			cfg.Zone = strings.Trim(args[0], ".")
		default:
			return nil, c.ArgErr()
		}

		for c.NextBlock() {
			switch c.Val() {
			case "nameservers":
				args := c.RemainingArgs()
				if len(args) == 0 {
					return nil, c.ArgErr()
				}
				cfg.Nameservers = args
			case "timeout":
				d, err := durationArg(c)
				if err != nil {
					return nil, err
				}
				cfg.Timeout = d
			case "workers":
				args := c.RemainingArgs()
				if len(args) != 1 {
					return nil, c.ArgErr()
				}
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return nil, fmt.Errorf("workers must be a positive integer: %s", args[0])
				}
				cfg.Workers = n
			case "serve-zone":
				args := c.RemainingArgs()
				if len(args) != 1 {
					return nil, c.ArgErr()
				}
				cfg.ServeZone = strings.ToLower(strings.Trim(args[0], "."))
			case "api":
				if err := parseAPI(c, cfg); err != nil {
					return nil, err
				}
			case "user":
				args := c.RemainingArgs()
				if len(args) != 2 {
					return nil, c.ArgErr()
				}
				cfg.Users[args[0]] = args[1]
			case "database-type":
				args := c.RemainingArgs()
				if len(args) == 0 {
					return nil, c.ArgErr()
				}
				cfg.DatabaseType = args[0]
				cfg.DatabaseArgs = args[1:]
			case "watchlist":
				wc, err := parseWatchlist(c)
				if err != nil {
					return nil, err
				}
				cfg.Watchlist = wc
			default:
				return nil, c.ArgErr()
			}
		}
	}

	if ns, found := os.LookupEnv(NameserversEnv); found && strings.TrimSpace(ns) != "" {
		cfg.Nameservers = strings.FieldsFunc(ns, func(r rune) bool { return r == ',' || r == ' ' })
	}

	return cfg, nil
}

func durationArg(c *caddy.Controller) (time.Duration, error) {
	args := c.RemainingArgs()
	if len(args) != 1 {
		return 0, c.ArgErr()
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", c.Val(), err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive: %s", c.Val(), args[0])
	}
	return d, nil
}

func parseAPI(c *caddy.Controller, cfg *config) error {
	for _, arg := range c.RemainingArgs() {
		argKV := strings.SplitN(arg, "=", 2)
		if len(argKV) != 2 {
			return c.ArgErr()
		}
		k, v := argKV[0], argKV[1]
		switch k {
		case "listen-address":
			cfg.APIAddr = v
		case "domain":
			cfg.APIDomain = v
		case "external-tls":
			externalTLS, err := strconv.ParseBool(v)
			if err != nil {
				return c.ArgErr()
			}
			cfg.ExternalTLS = externalTLS
		default:
			return c.ArgErr()
		}
	}
	if !cfg.ExternalTLS && cfg.APIDomain == "" {
		return fmt.Errorf("api: external-tls=false needs domain=<name> to obtain a certificate")
	}
	return nil
}

func parseWatchlist(c *caddy.Controller) (watchlist.Config, error) {
	args := c.RemainingArgs()
	if len(args) == 0 {
		return watchlist.Config{}, c.ArgErr()
	}
	wc := watchlist.Config{
		Path:    args[0],
		BaseDir: dnsserver.GetConfig(c).Root,
	}
	for _, arg := range args[1:] {
		kv := strings.SplitN(arg, "=", 2)
		if len(kv) != 2 {
			return wc, fmt.Errorf("invalid option: %s (expected key=value)", arg)
		}
		switch kv[0] {
		case "refresh":
			d, err := time.ParseDuration(kv[1])
			if err != nil {
				return wc, fmt.Errorf("invalid refresh duration: %w", err)
			}
			wc.Refresh = d
		default:
			return wc, fmt.Errorf("unknown watchlist option: %s", kv[0])
		}
	}
	return wc, nil
}
