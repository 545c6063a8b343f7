package main

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/StricklySoft/stricklysoft-trust/pkg/auth"
)

// publicMethods skip token verification.
var publicMethods = []string{
	healthpb.Health_Check_FullMethodName,
	healthpb.Health_Watch_FullMethodName,
}

// methodRoles grants RPCs by full method name. trustd registers no
// business services of its own, so everything outside publicMethods is
// denied until a service adds its entry here.
var methodRoles = map[string]auth.RoleSet{}

// newGRPCServer returns a server with authentication and authorization
// interceptors and the standard health service registered. opts carries
// transport credentials when TLS is configured.
func newGRPCServer(v auth.Verifier, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			auth.UnaryServerInterceptor(v, publicMethods...),
			auth.UnaryAuthorizeInterceptor(methodRoles, publicMethods...),
		),
		grpc.ChainStreamInterceptor(
			auth.StreamServerInterceptor(v, publicMethods...),
		),
	}, opts...)...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}
