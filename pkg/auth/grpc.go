package auth

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// UnaryServerInterceptor verifies the bearer token in the "authorization"
// metadata and stores [VerifiedClaims] in the handler context. Methods
// listed in public (full names such as "/grpc.health.v1.Health/Check")
// skip verification. Failures return codes.Unauthenticated with a fixed
// message.
func UnaryServerInterceptor(v Verifier, public ...string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if slices.Contains(public, info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, err := verifyGRPC(ctx, v)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming form of [UnaryServerInterceptor].
func StreamServerInterceptor(v Verifier, public ...string) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if slices.Contains(public, info.FullMethod) {
			return handler(srv, ss)
		}
		ctx, err := verifyGRPC(ss.Context(), v)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// UnaryAuthorizeInterceptor enforces per-method role sets. It must run
// after [UnaryServerInterceptor]. Methods absent from roles are denied
// unless listed in public.
func UnaryAuthorizeInterceptor(roles map[string]RoleSet, public ...string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if slices.Contains(public, info.FullMethod) {
			return handler(ctx, req)
		}
		claims, ok := ClaimsFromContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		}
		if err := CheckRoles(claims, roles[info.FullMethod]); err != nil {
			slog.InfoContext(ctx, "auth: rpc denied",
				"method", info.FullMethod, "code", string(sserr.GetCode(err)), "sub", claims.Subject())
			return nil, status.Error(codes.PermissionDenied, "forbidden")
		}
		return handler(ctx, req)
	}
}

func verifyGRPC(ctx context.Context, v Verifier) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "unauthorized")
	}

	values := md.Get(HeaderAuthorization)
	if len(values) == 0 {
		return ctx, status.Error(codes.Unauthenticated, "unauthorized")
	}
	token := ExtractBearerToken(values[0])
	if token == "" {
		return ctx, status.Error(codes.Unauthenticated, "unauthorized")
	}

	claims, err := v.Verify(ctx, token, time.Now())
	if err != nil {
		slog.InfoContext(ctx, "auth: rpc token rejected", "error", err)
		return ctx, status.Error(codes.Unauthenticated, "unauthorized")
	}
	return ContextWithClaims(ctx, claims), nil
}

// wrappedServerStream overrides Context so stream handlers see the claims.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
