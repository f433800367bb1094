// Command master runs the Hypertable-style master process: it hosts the
// namespace master (internal/nsmaster) in-process, joins it as a client
// like any other namespace-service participant, and runs the bootstrap/
// admission/table sequence in internal/master (spec §4.2). There is no
// separate namespace-master binary in this repository's scope (spec §1
// treats the namespace master as an external collaborator); colocating it
// here gives Bootstrap a real peer to run against end-to-end.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kuerant/hypertable/internal/config"
	"github.com/kuerant/hypertable/internal/master"
	"github.com/kuerant/hypertable/internal/namespace"
	"github.com/kuerant/hypertable/internal/nsmaster"
	"github.com/kuerant/hypertable/internal/nstransport"
	"github.com/kuerant/hypertable/internal/rangerpc"
	"github.com/kuerant/hypertable/internal/tracing"
	"github.com/kuerant/hypertable/util"
	"github.com/kuerant/hypertable/util/log"
)

// serversDir mirrors internal/master's unexported dirServers constant: the
// wire-level namespace path is protocol, not an internal Go symbol, so
// duplicating the literal here costs nothing and keeps internal/master's
// admission surface narrow.
const serversDir = "/hypertable/servers"

// reAdmitInterval re-scans serversDir for range servers that registered
// after Bootstrap's one-shot scan, since this repo's namespace protocol has
// no watch opcode (spec Non-goals: no RPC transport internals beyond the
// named collaborator contracts).
const reAdmitInterval = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to master TOML config")
	zipkinEndpoint := flag.String("zipkin-endpoint", "", "host:port of a Zipkin collector; tracing disabled if empty")
	flag.Parse()
	defer log.Flush()

	cfg := config.NewConfig(*configPath)
	masterAddr := util.BuildAddr(cfg.MasterCfg.Address, int(cfg.MasterCfg.Port))
	tracing.InitZipkin(*zipkinEndpoint, "hypertable-master", masterAddr)

	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.NamespaceCfg.EtcdEndpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatal("failed to connect to etcd: %v", err)
	}
	defer etcdClient.Close()

	store := nsmaster.NewStore(etcdClient)
	nsServer := nsmaster.NewServer(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nsAddr := util.BuildAddr(cfg.NamespaceCfg.Host, int(cfg.NamespaceCfg.Port))
	go func() {
		if err := nsServer.Serve(ctx, nsAddr); err != nil {
			log.Fatal("namespace master listener failed: %v", err)
		}
	}()

	transport := nstransport.NewTCPTransport(5 * time.Second)
	defer transport.Close()

	keepalive := nstransport.NewLeaseKeepalive(etcdClient, cfg.NamespaceCfg.LeaseInterval.Duration, cfg.NamespaceCfg.GracePeriod.Duration)
	session := namespace.New(namespace.Config{
		MasterAddr:    nsAddr,
		LeaseInterval: cfg.NamespaceCfg.LeaseInterval.Duration,
		GracePeriod:   cfg.NamespaceCfg.GracePeriod.Duration,
	}, transport, namespace.Callbacks{
		Safe:     func() { log.Info("master: namespace session SAFE") },
		Jeopardy: func() { log.Warn("master: namespace session JEOPARDY") },
		Expired:  func() { log.Fatal("master: namespace session EXPIRED, exiting") },
	})
	if err := keepalive.Start(session); err != nil {
		log.Fatal("failed to start namespace keepalive: %v", err)
	}
	defer keepalive.Stop()

	rpcClient := rangerpc.NewClient(5*time.Second, 30*time.Second)
	defer rpcClient.Close()

	m := master.New(master.Config{
		Address:           masterAddr,
		MaxRangeBytes:     cfg.MasterCfg.MaxRangeBytes,
		StartupTimeout:    cfg.MasterCfg.StartupTimeout.Duration,
		DFSConnectTimeout: cfg.MasterCfg.DFSConnectTimeout.Duration,
		ShutdownTimeout:   cfg.MasterCfg.ShutdownTimeout.Duration,
	}, master.NewNamespace(session), rpcClient)

	if err := m.Bootstrap(); err != nil {
		log.Fatal("master bootstrap failed: %v", err)
	}
	log.Info("master bootstrapped, listening for range-server admission on %v", serversDir)

	go reAdmitLoop(ctx, session, m)

	waitForShutdown()
	log.Info("master shutting down")
	if err := m.Shutdown(); err != nil {
		log.Error("master shutdown reported errors: %v", err)
	}
}

func reAdmitLoop(ctx context.Context, session *namespace.Session, m *master.Master) {
	ticker := time.NewTicker(reAdmitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			handle, err := session.Open(serversDir, namespace.OpenFlagRead)
			if err != nil {
				log.Warn("re-admit scan: open %v failed: %v", serversDir, err)
				continue
			}
			entries, err := session.Readdir(handle)
			session.Close(handle)
			if err != nil {
				log.Warn("re-admit scan: readdir %v failed: %v", serversDir, err)
				continue
			}
			for _, e := range entries {
				if err := m.AdmitServer(e.Name); err != nil {
					log.Warn("re-admit %v failed: %v", e.Name, err)
				}
			}
		}
	}
}

func waitForShutdown() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
