package grpcinvoke

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/grpc"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// methodSet maps "pkg.Service/Method" to its reflected method descriptor
// for one gRPC server address.
type methodSet map[string]protoreflect.MethodDescriptor

// discoverMethods dials a server's reflection service and walks the v1
// reflection API to build a full method descriptor set. It keeps the
// method descriptor itself rather than just the input/output message
// descriptors, since IsStreamingClient/IsStreamingServer determine the
// call shape to issue.
func discoverMethods(ctx context.Context, conn *grpc.ClientConn) (methodSet, error) {
	client := rpb.NewServerReflectionClient(conn)
	stream, err := client.ServerReflectionInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening reflection stream: %w", err)
	}

	if err := stream.Send(&rpb.ServerReflectionRequest{
		MessageRequest: &rpb.ServerReflectionRequest_ListServices{ListServices: ""},
	}); err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	listResp, err := stream.Recv()
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	listSvcs := listResp.GetListServicesResponse()
	if listSvcs == nil {
		return nil, fmt.Errorf("server does not support reflection")
	}

	seen := make(map[string]bool)
	var allFiles []*descriptorpb.FileDescriptorProto
	for _, svc := range listSvcs.Service {
		files, err := fetchFileDescriptors(stream, svc.Name, seen)
		if err != nil {
			return nil, fmt.Errorf("fetching descriptors for %s: %w", svc.Name, err)
		}
		allFiles = append(allFiles, files...)
	}
	if len(allFiles) == 0 {
		return nil, fmt.Errorf("no file descriptors returned")
	}

	resolved, err := protodesc.NewFiles(&descriptorpb.FileDescriptorSet{File: allFiles})
	if err != nil {
		return nil, fmt.Errorf("resolving descriptors: %w", err)
	}

	methods := methodsFromRegistry(resolved)
	if len(methods) == 0 {
		return nil, fmt.Errorf("no methods found via reflection")
	}
	return methods, nil
}

// methodsFromDescriptorSet loads a compiled FileDescriptorSet from disk
// (the output of "protoc --descriptor_set_out=FILE --include_imports") and
// builds the same method set discoverMethods builds from a live
// reflection call, for servers that don't implement the reflection
// service.
func methodsFromDescriptorSet(path string) (methodSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading proto descriptor set %s: %w", path, err)
	}
	var fdset descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &fdset); err != nil {
		return nil, fmt.Errorf("parsing proto descriptor set %s: %w", path, err)
	}
	resolved, err := protodesc.NewFiles(&fdset)
	if err != nil {
		return nil, fmt.Errorf("resolving proto descriptor set %s: %w", path, err)
	}
	methods := methodsFromRegistry(resolved)
	if len(methods) == 0 {
		return nil, fmt.Errorf("no methods found in proto descriptor set %s", path)
	}
	return methods, nil
}

// methodsFromRegistry flattens every service method in files into a
// methodSet keyed "pkg.Service/Method", the shape both discoverMethods and
// methodsFromDescriptorSet need from their respective sources.
func methodsFromRegistry(files *protoregistry.Files) methodSet {
	methods := make(methodSet)
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		for i := 0; i < fd.Services().Len(); i++ {
			sd := fd.Services().Get(i)
			for j := 0; j < sd.Methods().Len(); j++ {
				md := sd.Methods().Get(j)
				methods[fmt.Sprintf("%s/%s", sd.FullName(), md.Name())] = md
			}
		}
		return true
	})
	return methods
}

func fetchFileDescriptors(stream rpb.ServerReflection_ServerReflectionInfoClient, serviceName string, seen map[string]bool) ([]*descriptorpb.FileDescriptorProto, error) {
	return fetchDescriptors(stream, &rpb.ServerReflectionRequest{
		MessageRequest: &rpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: serviceName},
	}, seen)
}

// fetchDescriptors sends a reflection request, collects the returned file
// descriptors, and recursively fetches any unseen transitive dependencies.
func fetchDescriptors(stream rpb.ServerReflection_ServerReflectionInfoClient, req *rpb.ServerReflectionRequest, seen map[string]bool) ([]*descriptorpb.FileDescriptorProto, error) {
	if err := stream.Send(req); err != nil {
		return nil, err
	}
	resp, err := stream.Recv()
	if err != nil {
		return nil, err
	}
	fdResp := resp.GetFileDescriptorResponse()
	if fdResp == nil {
		return nil, fmt.Errorf("no file descriptor response")
	}

	var result []*descriptorpb.FileDescriptorProto
	for _, raw := range fdResp.FileDescriptorProto {
		fdp := &descriptorpb.FileDescriptorProto{}
		if err := proto.Unmarshal(raw, fdp); err != nil {
			return nil, err
		}
		name := fdp.GetName()
		if seen[name] {
			continue
		}
		seen[name] = true
		result = append(result, fdp)

		for _, dep := range fdp.Dependency {
			if seen[dep] {
				continue
			}
			depFiles, err := fetchDescriptors(stream, &rpb.ServerReflectionRequest{
				MessageRequest: &rpb.ServerReflectionRequest_FileByFilename{FileByFilename: dep},
			}, seen)
			if err != nil {
				continue // some well-known deps (e.g. google/protobuf/*) may not be served
			}
			result = append(result, depFiles...)
		}
	}
	return result, nil
}
