package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
)

// tcpProbeTimeout is the dial timeout for the plain reachability check.
// Distinct from (and much longer than) the 200ms used by a readiness
// poller: this probe runs once per test, not in a tight startup loop.
const tcpProbeTimeout = 5 * time.Second

// Probe reports whether address looks reachable before a call is
// attempted: a bare TCP dial, and — if that fails — a gRPC reflection
// ListServices call over a plaintext (insecure-credentials) connection.
// Reachable if either succeeds; otherwise returns a non-nil
// error describing both failures. This is never retryable: a target
// with nothing listening isn't a transient blip.
func Probe(ctx context.Context, address string) error {
	tcpErr := probeTCP(ctx, address)
	if tcpErr == nil {
		return nil
	}
	grpcErr := probeGRPCListServices(ctx, address)
	if grpcErr == nil {
		return nil
	}
	return fmt.Errorf("service unreachable: tcp probe: %v; grpc probe: %v", tcpErr, grpcErr)
}

func probeTCP(ctx context.Context, address string) error {
	dialCtx, cancel := context.WithTimeout(ctx, tcpProbeTimeout)
	defer cancel()
	d := net.Dialer{}
	conn, err := d.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}

func probeGRPCListServices(ctx context.Context, address string) error {
	dialCtx, cancel := context.WithTimeout(ctx, tcpProbeTimeout)
	defer cancel()

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	client := rpb.NewServerReflectionClient(conn)
	stream, err := client.ServerReflectionInfo(dialCtx)
	if err != nil {
		return err
	}
	if err := stream.Send(&rpb.ServerReflectionRequest{
		MessageRequest: &rpb.ServerReflectionRequest_ListServices{ListServices: ""},
	}); err != nil {
		return err
	}
	_, err = stream.Recv()
	return err
}
