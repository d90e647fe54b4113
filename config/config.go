// Package config maps command line flags and an optional YAML file to the
// runtime options of the gateway. Flags win over the file for values
// given on both, the file wins over flag defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/edgegate/edgegate"
	"github.com/edgegate/edgegate/ratelimit"
	"github.com/edgegate/edgegate/resolve"
	"github.com/edgegate/edgegate/snapshot"
)

type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	// generic:
	Address         string `yaml:"address"`
	SupportListener string `yaml:"support-listener"`
	PrintVersion    bool   `yaml:"version"`

	// snapshot store:
	SnapshotURL       string        `yaml:"snapshot-url"`
	SnapshotTimeout   time.Duration `yaml:"snapshot-timeout"`
	SnapshotCacheSize int           `yaml:"snapshot-cache-size"`

	// resolution:
	PlanHeader string `yaml:"plan-header"`

	// security:
	HtpasswdFile    string `yaml:"htpasswd-file"`
	BasicAuthRealm  string `yaml:"basic-auth-realm"`
	OAuthSigningKey string `yaml:"oauth-signing-key"`

	// rate limiting:
	RatelimitRedis             *listFlag     `yaml:"ratelimit-redis"`
	RatelimitRedisConnInterval time.Duration `yaml:"ratelimit-redis-conn-metrics-interval"`
	RatelimitKeyPrefix         string        `yaml:"ratelimit-key-prefix"`
	RatelimitFailOpen          bool          `yaml:"ratelimit-fail-open"`

	// logging:
	ApplicationLogLevel       log.Level `yaml:"-"`
	ApplicationLogLevelString string    `yaml:"application-log-level"`
	ApplicationLogPrefix      string    `yaml:"application-log-prefix"`
	ApplicationLogJSONEnabled bool      `yaml:"application-log-json-enabled"`
	AccessLogDisabled         bool      `yaml:"access-log-disabled"`
	AccessLogJSONEnabled      bool      `yaml:"access-log-json-enabled"`
}

func NewConfig() *Config {
	cfg := new(Config)
	cfg.RatelimitRedis = commaListFlag()

	flag := flag.NewFlagSet("", flag.ExitOnError)
	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml)")

	// generic:
	flag.StringVar(&cfg.Address, "address", ":9090", "network address the gateway listens on")
	flag.StringVar(&cfg.SupportListener, "support-listener", ":9911", "network address used for exposing the /metrics endpoint. An empty value disables the support endpoint")
	flag.BoolVar(&cfg.PrintVersion, "version", false, "print version")

	// snapshot store:
	flag.StringVar(&cfg.SnapshotURL, "snapshot-url", "", "base URL of the configuration snapshot store")
	flag.DurationVar(&cfg.SnapshotTimeout, "snapshot-timeout", snapshot.DefaultRequestTimeout, "timeout for a single snapshot store request")
	flag.IntVar(&cfg.SnapshotCacheSize, "snapshot-cache-size", snapshot.DefaultCapacity, "number of parsed snapshot routing tables kept in memory")

	// resolution:
	flag.StringVar(&cfg.PlanHeader, "plan-header", resolve.DefaultPlanHeader, "request header used to disambiguate plan ties")

	// security:
	flag.StringVar(&cfg.HtpasswdFile, "htpasswd-file", "", "htpasswd file backing basic auth schemes without a remote registry")
	flag.StringVar(&cfg.BasicAuthRealm, "basic-auth-realm", "", "realm announced in basic auth challenges")
	flag.StringVar(&cfg.OAuthSigningKey, "oauth-signing-key", "", "HMAC key validating oauth2 bearer tokens")

	// rate limiting:
	flag.Var(cfg.RatelimitRedis, "ratelimit-redis", "comma separated list of redis shards enabling the distributed rate limit backend")
	flag.DurationVar(&cfg.RatelimitRedisConnInterval, "ratelimit-redis-conn-metrics-interval", time.Minute, "frequency of updating the redis connection metrics")
	flag.StringVar(&cfg.RatelimitKeyPrefix, "ratelimit-key-prefix", ratelimit.DefaultKeyPrefix, "namespace prefix of limiter keys in the shared store")
	flag.BoolVar(&cfg.RatelimitFailOpen, "ratelimit-fail-open", false, "let requests pass when the rate limit store fails instead of rejecting them")

	// logging:
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", "INFO", "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", "[APP]", "prefix for application log entries")
	flag.BoolVar(&cfg.ApplicationLogJSONEnabled, "application-log-json-enabled", false, "when this flag is set application log in JSON format is used")
	flag.BoolVar(&cfg.AccessLogDisabled, "access-log-disabled", false, "when this flag is set no access log is printed")
	flag.BoolVar(&cfg.AccessLogJSONEnabled, "access-log-json-enabled", false, "when this flag is set access log in JSON format is used")

	cfg.Flags = flag
	return cfg
}

func validate(c *Config) error {
	if c.PrintVersion {
		return nil
	}

	_, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return fmt.Errorf("invalid application-log-level: %s", c.ApplicationLogLevelString)
	}

	if c.SnapshotURL == "" {
		return fmt.Errorf("snapshot-url is required")
	}

	if c.SnapshotCacheSize < 1 {
		return fmt.Errorf("invalid snapshot-cache-size: %d", c.SnapshotCacheSize)
	}

	return nil
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ExitOnError)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		// flags given on the command line win over the file
		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}
	}

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)
	return nil
}

func (c *Config) ToOptions() edgegate.Options {
	return edgegate.Options{
		Address:         c.Address,
		SupportListener: c.SupportListener,

		SnapshotURL:       c.SnapshotURL,
		SnapshotTimeout:   c.SnapshotTimeout,
		SnapshotCacheSize: c.SnapshotCacheSize,

		PlanHeader: c.PlanHeader,

		HtpasswdFile:    c.HtpasswdFile,
		BasicAuthRealm:  c.BasicAuthRealm,
		OAuthSigningKey: c.OAuthSigningKey,

		RatelimitRedisAddrs:        c.RatelimitRedis.values,
		RatelimitRedisConnInterval: c.RatelimitRedisConnInterval,
		RatelimitKeyPrefix:         c.RatelimitKeyPrefix,
		RatelimitFailOpen:          c.RatelimitFailOpen,

		ApplicationLogLevel:       c.ApplicationLogLevelString,
		ApplicationLogPrefix:      c.ApplicationLogPrefix,
		ApplicationLogJSONEnabled: c.ApplicationLogJSONEnabled,
		AccessLogDisabled:         c.AccessLogDisabled,
		AccessLogJSONEnabled:      c.AccessLogJSONEnabled,
	}
}
