package config

import (
	"github.com/BurntSushi/toml"

	"github.com/kuerant/hypertable/util/log"
)

const RoleRangeServer = "rangeserver"

const DefaultRangeServerConfig = `
[module]
name = "rangeserver"
role = "rangeserver"
data-path = "/tmp/hypertable/rangeserver/data"

[log]
log-path = "/tmp/hypertable/rangeserver/log"
level = "info"

[namespace]
host = "127.0.0.1"
port = 38551
lease-interval = "20s"
grace-period = "60s"
etcd-endpoints = ["127.0.0.1:2379"]

[rangeserver]
address = "127.0.0.1"
port = 38560
`

// RangeServerConfig is the range-server admission stub's configuration: it
// only needs enough to register with the master and answer the
// RangeServerRPC contract (spec §6.4) — the storage engine is out of scope.
type RangeServerConfig struct {
	ModuleCfg    ModuleConfig          `toml:"module"`
	LogCfg       LogConfig             `toml:"log"`
	NamespaceCfg NamespaceConfig       `toml:"namespace"`
	ServerCfg    RangeServerSelfConfig `toml:"rangeserver"`
}

type RangeServerSelfConfig struct {
	Address string `toml:"address"`
	Port    uint32 `toml:"port"`
}

func (c *RangeServerSelfConfig) adjust() {
	adjustString(&c.Address, "no rangeserver address")
	adjustUint32(&c.Port, "no rangeserver port")
}

func NewRangeServerConfig(path string) *RangeServerConfig {
	c := new(RangeServerConfig)

	if _, err := toml.Decode(DefaultRangeServerConfig, c); err != nil {
		log.Panic("failed to decode default config: %v", err)
	}
	if len(path) != 0 {
		if _, err := toml.DecodeFile(path, c); err != nil {
			log.Panic("failed to decode config file[%v]: %v", path, err)
		}
	}

	c.ModuleCfg.adjust(RoleRangeServer)
	c.LogCfg.adjust()
	c.NamespaceCfg.adjust()
	c.ServerCfg.adjust()
	return c
}
