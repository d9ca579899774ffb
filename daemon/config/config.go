package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/containerd/log"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const (
	// DefaultPort is the TCP port served when none is configured.
	DefaultPort = 8000
	// DefaultIdleTimeout is how long a connection may wait for the next request.
	DefaultIdleTimeout = 30 * time.Second
	// DefaultWriteTimeout bounds the time spent writing one chunk of a response.
	DefaultWriteTimeout = 30 * time.Second
	// DefaultShutdownTimeout is the grace period given to in-flight responses.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultMaxHeaderSize limits the size of a request head.
	DefaultMaxHeaderSize = 8 << 10
	// DefaultLogFormat is the format used for the server's own logs.
	DefaultLogFormat = string(log.TextFormat)

	// EnvPort and EnvRoot name the environment variables consulted for the
	// port and document root when they are not set otherwise.
	EnvPort = "FSD_PORT"
	EnvRoot = "FSD_ROOT"
)

// flagOnlyOptions are flags that cannot be set from a configuration file.
var flagOnlyOptions = map[string]bool{
	"config-file": true,
	"env-file":    true,
	"version":     true,
}

// Config defines the configuration of the file server.
// It includes json tags to deserialize configuration from a file
// using the same names that the flags in the command line uses.
type Config struct {
	BindAddress     string   `json:"bind,omitempty"`
	Port            int      `json:"port,omitempty"`
	Root            string   `json:"root,omitempty"`
	IdleTimeout     Duration `json:"idle-timeout,omitempty"`
	WriteTimeout    Duration `json:"write-timeout,omitempty"`
	ShutdownTimeout Duration `json:"shutdown-timeout,omitempty"`
	MaxHeaderSize   ByteSize `json:"max-header-size,omitempty"`
	MaxConnections  int      `json:"max-connections,omitempty"`
	NoListing       bool     `json:"no-listing,omitempty"`
	MetricsAddress  string   `json:"metrics-addr,omitempty"`
	Pidfile         string   `json:"pidfile,omitempty"`

	Debug     bool   `json:"debug,omitempty"`
	LogLevel  string `json:"log-level,omitempty"`
	LogFormat string `json:"log-format,omitempty"`
	RawLogs   bool   `json:"raw-logs,omitempty"`
}

// New returns a new fully initialized Config struct with default values set.
func New() *Config {
	return &Config{
		Port:            DefaultPort,
		Root:            ".",
		IdleTimeout:     Duration(DefaultIdleTimeout),
		WriteTimeout:    Duration(DefaultWriteTimeout),
		ShutdownTimeout: Duration(DefaultShutdownTimeout),
		MaxHeaderSize:   DefaultMaxHeaderSize,
		LogLevel:        "info",
		LogFormat:       DefaultLogFormat,
	}
}

// Address returns the host:port the server listens on.
func (conf *Config) Address() string {
	return net.JoinHostPort(conf.BindAddress, strconv.Itoa(conf.Port))
}

// ApplyEnvironment fills the port and document root from the environment,
// unless they were given on the command line. Values from a configuration
// file, merged later, still take precedence.
func ApplyEnvironment(conf *Config, flags *pflag.FlagSet, lookupEnv func(string) (string, bool)) error {
	if v, ok := lookupEnv(EnvPort); ok && v != "" && !changed(flags, "port") {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Errorf("invalid %s: %q is not a port number", EnvPort, v)
		}
		conf.Port = port
	}
	if v, ok := lookupEnv(EnvRoot); ok && v != "" && !changed(flags, "root") {
		conf.Root = v
	}
	return nil
}

func changed(flags *pflag.FlagSet, name string) bool {
	return flags != nil && flags.Changed(name)
}

// MergeServerConfigurations reads a configuration file,
// loads the file configuration in an isolated structure,
// and merges the configuration provided from flags on top
// if there are no conflicts.
func MergeServerConfigurations(flagsConfig *Config, flags *pflag.FlagSet, configFile string) (*Config, error) {
	fileConfig, err := getConflictFreeConfiguration(configFile, flags)
	if err != nil {
		return nil, err
	}

	// merge flags configuration on top of the file configuration
	if err := mergo.Merge(fileConfig, flagsConfig); err != nil {
		return nil, err
	}

	// validate the merged fileConfig and flagsConfig
	if err := Validate(fileConfig); err != nil {
		return nil, errors.Wrap(err, "merged configuration validation from file and command line flags failed")
	}

	return fileConfig, nil
}

// getConflictFreeConfiguration loads the configuration from a JSON or TOML
// file. It compares that configuration with the one provided by the flags,
// and returns an error if there are conflicts.
func getConflictFreeConfiguration(configFile string, flags *pflag.FlagSet) (*Config, error) {
	b, err := os.ReadFile(configFile)
	if err != nil {
		return nil, err
	}
	b, err = toJSON(configFile, b)
	if err != nil {
		return nil, err
	}

	var config Config
	if flags != nil {
		var jsonConfig map[string]interface{}
		if err := json.Unmarshal(b, &jsonConfig); err != nil {
			return nil, err
		}

		if err := findConfigurationConflicts(jsonConfig, flags); err != nil {
			return nil, err
		}

		// Override flag values to make sure the values set in the config file with nullable values, like `false`,
		// are not overridden by default truthy values from the flags that were not explicitly set.
		for key, value := range jsonConfig {
			f := flags.Lookup(key)
			if f == nil {
				continue
			}
			if f.Value.Type() == "bool" {
				if err := f.Value.Set(fmt.Sprintf("%v", value)); err != nil {
					return nil, errors.Wrapf(err, "invalid value for %s", key)
				}
			}
		}
	}

	if err := json.Unmarshal(b, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// toJSON strips a UTF-8 byte order mark and converts TOML files, recognised
// by their extension, to JSON so both formats share one decoding path.
func toJSON(configFile string, b []byte) ([]byte, error) {
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	if !strings.EqualFold(filepath.Ext(configFile), ".toml") {
		return b, nil
	}
	tree, err := toml.LoadBytes(b)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid TOML in %s", configFile)
	}
	return json.Marshal(tree.ToMap())
}

// findConfigurationConflicts iterates over the provided flags searching for
// duplicated configurations and unknown keys. It returns an error with all the conflicts if
// it finds any.
func findConfigurationConflicts(config map[string]interface{}, flags *pflag.FlagSet) error {
	// 1. Search keys from the file that we don't recognize as flags.
	var unknown []string
	for key := range config {
		if f := flags.Lookup(key); f == nil || flagOnlyOptions[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errors.Errorf("the following directives don't match any configuration option: %s", strings.Join(unknown, ", "))
	}

	// 2. Search keys that are present as a flag and as a file option.
	var conflicts []string
	flags.Visit(func(f *pflag.Flag) {
		if value, ok := config[f.Name]; ok {
			conflicts = append(conflicts, fmt.Sprintf("%s: (from flag: %v, from file: %v)", f.Name, f.Value.String(), value))
		}
	})
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return errors.Errorf("the following directives are specified both as a flag and in the configuration file: %s", strings.Join(conflicts, ", "))
	}
	return nil
}

// Validate validates some specific configs.
func Validate(config *Config) error {
	if config.Port < 0 || config.Port > 65535 {
		return errors.Errorf("invalid port: %d", config.Port)
	}
	if config.Root == "" {
		return errors.New("document root must not be empty")
	}
	if config.IdleTimeout < 0 {
		return errors.Errorf("invalid idle timeout: %s", &config.IdleTimeout)
	}
	if config.WriteTimeout < 0 {
		return errors.Errorf("invalid write timeout: %s", &config.WriteTimeout)
	}
	if config.ShutdownTimeout < 0 {
		return errors.Errorf("invalid shutdown timeout: %s", &config.ShutdownTimeout)
	}
	if config.MaxHeaderSize < 256 {
		return errors.Errorf("invalid max header size: %d bytes, must be at least 256", config.MaxHeaderSize)
	}
	if config.MaxConnections < 0 {
		return errors.Errorf("invalid max connections: %d", config.MaxConnections)
	}
	if config.MetricsAddress != "" {
		if _, _, err := net.SplitHostPort(config.MetricsAddress); err != nil {
			return errors.Wrapf(err, "invalid metrics address %q", config.MetricsAddress)
		}
	}
	if config.LogLevel != "" {
		if _, err := logrus.ParseLevel(config.LogLevel); err != nil {
			return errors.Errorf("invalid logging level: %s", config.LogLevel)
		}
	}
	switch config.LogFormat {
	case "", string(log.TextFormat), string(log.JSONFormat):
	default:
		return errors.Errorf("invalid log format: %s", config.LogFormat)
	}
	return nil
}
