package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig("")
	require.Equal(t, RoleMaster, c.ModuleCfg.Role)
	require.Equal(t, "127.0.0.1", c.NamespaceCfg.Host)
	require.EqualValues(t, 38551, c.NamespaceCfg.Port)
	require.Greater(t, c.NamespaceCfg.LeaseInterval.Duration.Seconds(), 0.0)
	require.Greater(t, c.MasterCfg.MaxRangeBytes, int64(0))
	require.NotEmpty(t, c.NamespaceCfg.EtcdEndpoints)
}

func TestNewRangeServerConfigDefaults(t *testing.T) {
	c := NewRangeServerConfig("")
	require.Equal(t, RoleRangeServer, c.ModuleCfg.Role)
	require.EqualValues(t, 38560, c.ServerCfg.Port)
	require.NotEmpty(t, c.NamespaceCfg.EtcdEndpoints)
}
