// Package tracing wires an optional Zipkin exporter into opencensus'
// trace package, grounded on
// childoftheuniverse-red-cloud/caretaker/main.go's flag-gated setup: a
// Zipkin endpoint is a deployment knob, not a required dependency, so
// InitZipkin is a no-op when endpoint is empty.
package tracing

import (
	"fmt"
	"net"
	"strconv"

	"contrib.go.opencensus.io/exporter/zipkin"
	openzipkin "github.com/openzipkin/zipkin-go"
	zipkinHTTP "github.com/openzipkin/zipkin-go/reporter/http"
	"go.opencensus.io/trace"

	"github.com/kuerant/hypertable/util/log"
)

// InitZipkin registers a Zipkin exporter for serviceName reachable at
// hostPort, reporting spans to zipkinEndpoint. A no-op when zipkinEndpoint
// is empty.
func InitZipkin(zipkinEndpoint, serviceName, hostPort string) {
	if zipkinEndpoint == "" {
		return
	}

	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		log.Warn("tracing: invalid local address %v, spans will omit the local endpoint: %v", hostPort, err)
	}
	port, _ := strconv.Atoi(portStr)

	localEndpoint, err := openzipkin.NewEndpoint(serviceName, net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		log.Warn("tracing: failed to create local zipkin endpoint: %v", err)
		return
	}

	reporter := zipkinHTTP.NewReporter(fmt.Sprintf("http://%s/api/v2/spans", zipkinEndpoint))
	exporter := zipkin.NewExporter(reporter, localEndpoint)
	trace.RegisterExporter(exporter)
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
	log.Info("tracing: reporting spans for %v to %v", serviceName, zipkinEndpoint)
}
