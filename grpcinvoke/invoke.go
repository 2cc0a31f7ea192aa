// Package grpcinvoke implements the gRPC invoker adapter: given an
// address and a "pkg.Service/Method" endpoint, it resolves the method via
// server reflection and issues a unary or streaming call built from
// dynamicpb messages, so the engine never needs generated client stubs
// for the services under test.
package grpcinvoke

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Options carries per-call behavior that isn't part of the request data
// itself.
type Options struct {
	// DryRun short-circuits the call entirely: no connection is made, and
	// the supplied simulated result is returned as-is. The runner (which
	// knows the test's declared RESPONSE/ERROR expectations) is
	// responsible for populating the simulated fields; the adapter has
	// no notion of what a test expects.
	DryRun                bool
	SimulatedMessages     [][]byte
	SimulatedStatusCode   uint32
	SimulatedErrorMessage string

	// ProtoFile is the path to a compiled FileDescriptorSet (the binary
	// output of "protoc --descriptor_set_out") used to resolve the call's
	// method descriptor instead of server reflection, for targets that
	// don't implement the reflection service.
	ProtoFile string
}

// Response is what invoking an endpoint returns: the decoded response
// message(s) as JSON, the resulting gRPC status code (0 == OK), the
// measured round-trip latency, and the header/trailer metadata.
type Response struct {
	Messages       [][]byte
	StatusCode     uint32
	ErrorMessage   string
	ResponseTimeMs int64
	Headers        map[string][]string
	Trailers       map[string][]string
}

// Invoker issues dynamic gRPC calls, reusing one connection and resolved
// method set per address across calls.
type Invoker struct {
	mu          sync.Mutex
	conns       map[string]*grpc.ClientConn
	methods     map[string]methodSet
	fileMethods map[string]methodSet
}

// New returns an Invoker with no cached connections.
func New() *Invoker {
	return &Invoker{
		conns:       map[string]*grpc.ClientConn{},
		methods:     map[string]methodSet{},
		fileMethods: map[string]methodSet{},
	}
}

// Invoke calls endpoint on address with the ordered request bodies,
// presenting them as a client-streaming call when the method descriptor
// says the method is client-streaming. The adapter never retries; a
// failed call is reported through Response.StatusCode, not by returning
// a Go error, except when the call cannot even be attempted (unresolved
// method, malformed request JSON, stream setup failure).
func (inv *Invoker) Invoke(ctx context.Context, address, endpoint string, requests []json.RawMessage, headers []string, opts Options) (*Response, error) {
	if opts.DryRun {
		return &Response{Messages: opts.SimulatedMessages, StatusCode: opts.SimulatedStatusCode, ErrorMessage: opts.SimulatedErrorMessage}, nil
	}

	conn, methods, err := inv.connFor(ctx, address, opts.ProtoFile)
	if err != nil {
		return nil, err
	}
	md, ok := methods[endpoint]
	if !ok {
		return nil, fmt.Errorf("endpoint %q not found via reflection on %s", endpoint, address)
	}

	callCtx := ctx
	if len(headers) > 0 {
		outgoing := metadata.MD{}
		for _, h := range headers {
			if i := strings.Index(h, ": "); i >= 0 {
				outgoing.Append(h[:i], h[i+2:])
			}
		}
		callCtx = metadata.NewOutgoingContext(ctx, outgoing)
	}

	start := time.Now()
	var resp *Response
	if md.IsStreamingClient() || md.IsStreamingServer() {
		resp, err = inv.invokeStreaming(callCtx, conn, md, requests)
	} else {
		resp, err = inv.invokeUnary(callCtx, conn, md, requests)
	}
	if err != nil {
		return nil, err
	}
	resp.ResponseTimeMs = time.Since(start).Milliseconds()
	return resp, nil
}

func (inv *Invoker) invokeUnary(ctx context.Context, conn *grpc.ClientConn, md protoreflect.MethodDescriptor, requests []json.RawMessage) (*Response, error) {
	req := dynamicpb.NewMessage(md.Input())
	if len(requests) > 0 {
		if err := protojson.Unmarshal(requests[0], req); err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
	}

	out := dynamicpb.NewMessage(md.Output())
	var headerMD, trailerMD metadata.MD
	err := conn.Invoke(ctx, fullMethodName(md), req, out, grpc.Header(&headerMD), grpc.Trailer(&trailerMD))
	statusCode := uint32(status.Code(err))

	resp := &Response{
		StatusCode: statusCode,
		Headers:    map[string][]string(headerMD),
		Trailers:   map[string][]string(trailerMD),
	}
	if err != nil {
		resp.ErrorMessage = status.Convert(err).Message()
	}
	if statusCode == 0 {
		body, err := protojson.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
		resp.Messages = [][]byte{body}
	}
	return resp, nil
}

func (inv *Invoker) invokeStreaming(ctx context.Context, conn *grpc.ClientConn, md protoreflect.MethodDescriptor, requests []json.RawMessage) (*Response, error) {
	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    string(md.Name()),
		ServerStreams: md.IsStreamingServer(),
		ClientStreams: md.IsStreamingClient(),
	}, fullMethodName(md))
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}

	for _, r := range requests {
		req := dynamicpb.NewMessage(md.Input())
		if err := protojson.Unmarshal(r, req); err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		if err := stream.SendMsg(req); err != nil {
			return &Response{StatusCode: uint32(status.Code(err)), ErrorMessage: status.Convert(err).Message()}, nil
		}
	}
	if md.IsStreamingClient() {
		if err := stream.CloseSend(); err != nil {
			return &Response{StatusCode: uint32(status.Code(err)), ErrorMessage: status.Convert(err).Message()}, nil
		}
	}

	var messages [][]byte
	var statusCode uint32
	var errMessage string
	for {
		out := dynamicpb.NewMessage(md.Output())
		if err := stream.RecvMsg(out); err != nil {
			if err == io.EOF {
				break
			}
			statusCode = uint32(status.Code(err))
			errMessage = status.Convert(err).Message()
			break
		}
		body, err := protojson.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
		messages = append(messages, body)
	}

	var headerMD metadata.MD
	headerMD, _ = stream.Header()
	return &Response{
		Messages:     messages,
		StatusCode:   statusCode,
		ErrorMessage: errMessage,
		Headers:      map[string][]string(headerMD),
		Trailers:     map[string][]string(stream.Trailer()),
	}, nil
}

func fullMethodName(md protoreflect.MethodDescriptor) string {
	svc := md.Parent().(protoreflect.ServiceDescriptor)
	return "/" + string(svc.FullName()) + "/" + string(md.Name())
}

// connFor returns a cached (or newly dialed) connection to address, and
// its method set. When protoFile is set, the method set is resolved once
// from that descriptor file and cached by path instead of by server
// reflection, for targets that don't implement the reflection service.
// Method resolution happens outside the mutex: reflection discovery is a
// network round-trip, and holding the lock across it would stall every
// other worker's call to an already-resolved address. Two workers racing
// to resolve the same address may both discover; the first write wins.
func (inv *Invoker) connFor(ctx context.Context, address, protoFile string) (*grpc.ClientConn, methodSet, error) {
	inv.mu.Lock()
	conn, ok := inv.conns[address]
	if !ok {
		dialed, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			inv.mu.Unlock()
			return nil, nil, fmt.Errorf("dialing %s: %w", address, err)
		}
		conn = dialed
		inv.conns[address] = conn
	}

	if protoFile != "" {
		methods, ok := inv.fileMethods[protoFile]
		inv.mu.Unlock()
		if ok {
			return conn, methods, nil
		}
		loaded, err := methodsFromDescriptorSet(protoFile)
		if err != nil {
			return nil, nil, err
		}
		inv.mu.Lock()
		if cached, ok := inv.fileMethods[protoFile]; ok {
			loaded = cached
		} else {
			inv.fileMethods[protoFile] = loaded
		}
		inv.mu.Unlock()
		return conn, loaded, nil
	}

	methods, ok := inv.methods[address]
	inv.mu.Unlock()
	if ok {
		return conn, methods, nil
	}
	discovered, err := discoverMethods(ctx, conn)
	if err != nil {
		return nil, nil, fmt.Errorf("discovering methods on %s: %w", address, err)
	}
	inv.mu.Lock()
	if cached, ok := inv.methods[address]; ok {
		discovered = cached
	} else {
		inv.methods[address] = discovered
	}
	inv.mu.Unlock()
	return conn, discovered, nil
}

// Close releases every cached connection.
func (inv *Invoker) Close() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	var firstErr error
	for addr, conn := range inv.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(inv.conns, addr)
	}
	return firstErr
}
