// Package config loads TOML configuration for the master and range-server
// stub processes, following master/config.go's pattern: decode a
// DEFAULT_*_CONFIG literal first, overlay an optional file, then run an
// adjust() pass that fills defaults and panics on missing required fields.
package config

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/kuerant/hypertable/util/log"
)

const DefaultMasterConfig = `
[module]
name = "master"
role = "master"
data-path = "/tmp/hypertable/master/data"

[log]
log-path = "/tmp/hypertable/master/log"
level = "info"

[namespace]
host = "127.0.0.1"
port = 38551
lease-interval = "20s"
grace-period = "60s"
etcd-endpoints = ["127.0.0.1:2379"]

[master]
address = "127.0.0.1"
port = 38552
max-range-bytes = 209715200
startup-timeout = "30s"
dfs-connect-timeout = "30s"
shutdown-timeout = "30s"
`

const (
	RoleMaster = "master"

	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Config is the master process's fully-adjusted configuration.
type Config struct {
	ModuleCfg    ModuleConfig    `toml:"module"`
	LogCfg       LogConfig       `toml:"log"`
	NamespaceCfg NamespaceConfig `toml:"namespace"`
	MasterCfg    MasterConfig    `toml:"master"`
}

// ModuleConfig identifies the process and its local data directory.
type ModuleConfig struct {
	Name     string `toml:"name"`
	Role     string `toml:"role"`
	DataPath string `toml:"data-path"`
}

// adjust validates the common module fields. wantRole, if non-empty,
// additionally enforces that Role matches the calling process kind.
func (c *ModuleConfig) adjust(wantRole string) {
	adjustString(&c.Name, "no module name")
	adjustString(&c.Role, "no role")
	if wantRole != "" && c.Role != wantRole {
		log.Panic("invalid role[%v], expected[%v]", c.Role, wantRole)
	}
	adjustString(&c.DataPath, "no data path")
	ensureDir(c.DataPath)
}

// LogConfig configures the util/log (glog) sink.
type LogConfig struct {
	LogPath string `toml:"log-path"`
	Level   string `toml:"level"`
}

func (c *LogConfig) adjust() {
	adjustString(&c.LogPath, "no log path")
	ensureDir(c.LogPath)

	adjustString(&c.Level, "no log level")
	c.Level = strings.ToLower(c.Level)
	switch c.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		log.Panic("invalid log level[%v]", c.Level)
	}
}

// NamespaceConfig points at the namespace-service master and sets the
// session's lease/grace parameters (spec §4.1, §9 glossary).
type NamespaceConfig struct {
	Host          string   `toml:"host"`
	Port          uint32   `toml:"port"`
	LeaseInterval Duration `toml:"lease-interval"`
	GracePeriod   Duration `toml:"grace-period"`
	// EtcdEndpoints backs both the namespace master's own Store (when this
	// process also runs it, as cmd/master does) and every client session's
	// LeaseKeepalive, which drives session liveness independently of the
	// TCP request/reply connection to Host:Port.
	EtcdEndpoints []string `toml:"etcd-endpoints"`
}

func (c *NamespaceConfig) adjust() {
	adjustString(&c.Host, "no namespace host")
	adjustUint32(&c.Port, "no namespace port")
	adjustDuration(&c.LeaseInterval, "no namespace lease interval")
	adjustDuration(&c.GracePeriod, "no namespace grace period")
	if len(c.EtcdEndpoints) == 0 {
		log.Panic("config error: no namespace etcd-endpoints")
	}
}

// MasterConfig configures the master's own reachable address and its
// bootstrap/admission timeouts (spec §4.2).
type MasterConfig struct {
	Address           string   `toml:"address"`
	Port              uint32   `toml:"port"`
	MaxRangeBytes     int64    `toml:"max-range-bytes"`
	StartupTimeout    Duration `toml:"startup-timeout"`
	DFSConnectTimeout Duration `toml:"dfs-connect-timeout"`
	ShutdownTimeout   Duration `toml:"shutdown-timeout"`
}

func (c *MasterConfig) adjust() {
	adjustString(&c.Address, "no master address")
	adjustUint32(&c.Port, "no master port")
	if c.MaxRangeBytes <= 0 {
		log.Panic("invalid max-range-bytes[%v]", c.MaxRangeBytes)
	}
	adjustDuration(&c.StartupTimeout, "no master startup timeout")
	adjustDuration(&c.DFSConnectTimeout, "no master dfs connect timeout")
	adjustDuration(&c.ShutdownTimeout, "no master shutdown timeout")
}

// NewConfig decodes DefaultMasterConfig, overlays path (if non-empty), and
// runs the adjust() validation pass, panicking on any missing field.
func NewConfig(path string) *Config {
	c := new(Config)

	if _, err := toml.Decode(DefaultMasterConfig, c); err != nil {
		log.Panic("failed to decode default config: %v", err)
	}

	if len(path) != 0 {
		if _, err := toml.DecodeFile(path, c); err != nil {
			log.Panic("failed to decode config file[%v]: %v", path, err)
		}
	}

	c.adjust()
	return c
}

func (c *Config) adjust() {
	c.ModuleCfg.adjust(RoleMaster)
	c.LogCfg.adjust()
	c.NamespaceCfg.adjust()
	c.MasterCfg.adjust()
}

func adjustString(v *string, errMsg string) {
	if len(*v) == 0 {
		log.Panic("config error: %v", errMsg)
	}
}

func adjustUint32(v *uint32, errMsg string) {
	if *v == 0 {
		log.Panic("config error: %v", errMsg)
	}
}

func adjustDuration(v *Duration, errMsg string) {
	if v.Duration == 0 {
		log.Panic("config error: %v", errMsg)
	}
}

func ensureDir(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, os.ModePerm); err != nil {
			log.Panic("failed to create directory[%v]: %v", path, err)
		}
	}
}
