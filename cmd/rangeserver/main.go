// Command rangeserver is an admission-only range-server fixture: it
// registers itself under /hypertable/servers as a liveness token the
// master discovers (spec §4.2 "Server admission") and serves the
// RangeServerRPC contract (load_range/drop_table/shutdown) by logging and
// acknowledging every call. The storage engine behind a real range server
// is out of scope (spec §1); this binary exists so internal/master's
// admission and table operations have a real peer to drive end-to-end.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opencensus.io/trace"
	"google.golang.org/grpc"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kuerant/hypertable/internal/config"
	"github.com/kuerant/hypertable/internal/namespace"
	"github.com/kuerant/hypertable/internal/nstransport"
	"github.com/kuerant/hypertable/internal/rangerpc"
	"github.com/kuerant/hypertable/internal/tracing"
	"github.com/kuerant/hypertable/util"
	"github.com/kuerant/hypertable/util/log"
)

const serversDir = "/hypertable/servers"

// stubHandler answers the RangeServerRPC contract without a storage engine
// behind it: every load_range/drop_table call succeeds immediately,
// shutdown triggers process exit. This mirrors spec §1's explicit
// exclusion of the storage engine while still exercising internal/master's
// admission and table-operation RPCs against a real grpc.Server.
type stubHandler struct {
	shutdown chan struct{}
}

func (h *stubHandler) LoadRange(ctx context.Context, req *rangerpc.LoadRangeRequest) (*rangerpc.LoadRangeResponse, error) {
	_, span := trace.StartSpan(ctx, "rangeserver.LoadRange")
	defer span.End()
	log.Info("rangeserver: load_range table=%d name=%v range=[%v,%v]", req.TableID, req.TableName, req.Range.StartRow, req.Range.EndRow)
	return &rangerpc.LoadRangeResponse{Code: 0, Message: "ok"}, nil
}

func (h *stubHandler) DropTable(ctx context.Context, req *rangerpc.DropTableRequest) (*rangerpc.DropTableResponse, error) {
	_, span := trace.StartSpan(ctx, "rangeserver.DropTable")
	defer span.End()
	log.Info("rangeserver: drop_table table=%d", req.TableID)
	return &rangerpc.DropTableResponse{Code: 0, Message: "ok"}, nil
}

func (h *stubHandler) Shutdown(ctx context.Context, req *rangerpc.ShutdownRequest) (*rangerpc.ShutdownResponse, error) {
	log.Info("rangeserver: shutdown requested by master")
	close(h.shutdown)
	return &rangerpc.ShutdownResponse{Code: 0, Message: "ok"}, nil
}

func main() {
	configPath := flag.String("config", "", "path to range-server TOML config")
	zipkinEndpoint := flag.String("zipkin-endpoint", "", "host:port of a Zipkin collector; tracing disabled if empty")
	flag.Parse()
	defer log.Flush()

	cfg := config.NewRangeServerConfig(*configPath)
	listenAddr := util.BuildAddr(cfg.ServerCfg.Address, int(cfg.ServerCfg.Port))
	tracing.InitZipkin(*zipkinEndpoint, "hypertable-rangeserver", listenAddr)

	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.NamespaceCfg.EtcdEndpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatal("failed to connect to etcd: %v", err)
	}
	defer etcdClient.Close()

	transport := nstransport.NewTCPTransport(5 * time.Second)
	defer transport.Close()

	nsAddr := util.BuildAddr(cfg.NamespaceCfg.Host, int(cfg.NamespaceCfg.Port))
	keepalive := nstransport.NewLeaseKeepalive(etcdClient, cfg.NamespaceCfg.LeaseInterval.Duration, cfg.NamespaceCfg.GracePeriod.Duration)
	session := namespace.New(namespace.Config{
		MasterAddr:    nsAddr,
		LeaseInterval: cfg.NamespaceCfg.LeaseInterval.Duration,
		GracePeriod:   cfg.NamespaceCfg.GracePeriod.Duration,
	}, transport, namespace.Callbacks{
		Expired: func() { log.Fatal("rangeserver: namespace session EXPIRED, exiting") },
	})
	if err := keepalive.Start(session); err != nil {
		log.Fatal("failed to start namespace keepalive: %v", err)
	}
	defer keepalive.Stop()

	if !session.WaitForConnection(30 * time.Second) {
		log.Fatal("namespace session did not become safe within startup timeout")
	}

	locationID := fmt.Sprintf("%s_%d", cfg.ServerCfg.Address, cfg.ServerCfg.Port)
	serverPath := serversDir + "/" + locationID
	handle, err := session.Create(serverPath, namespace.OpenFlagWrite|namespace.OpenFlagLock)
	if err != nil {
		log.Fatal("failed to create server admission file %v: %v", serverPath, err)
	}
	status, _, err := session.TryLock(handle, namespace.LockExclusive)
	if err != nil {
		log.Fatal("failed to lock server admission file %v: %v", serverPath, err)
	}
	if status != namespace.LockGranted {
		log.Fatal("another rangeserver instance already holds %v", serverPath)
	}
	log.Info("rangeserver: registered as %v, holding admission lock", locationID)

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatal("failed to listen on %v: %v", listenAddr, err)
	}

	grpcServer := grpc.NewServer()
	handler := &stubHandler{shutdown: make(chan struct{})}
	rangerpc.RegisterHandler(grpcServer, handler)

	go func() {
		if err := grpcServer.Serve(ln); err != nil {
			log.Warn("rangeserver: grpc serve stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("rangeserver: signal received, shutting down")
	case <-handler.shutdown:
		log.Info("rangeserver: shut down by master")
	}

	grpcServer.GracefulStop()
	if err := session.Release(handle); err != nil {
		log.Warn("rangeserver: release admission lock failed: %v", err)
	}
	if err := session.Close(handle); err != nil {
		log.Warn("rangeserver: close admission handle failed: %v", err)
	}
}
