package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/xela07ax/constraint-ledger/internal/infra/auth"
)

// UnaryAuthInterceptor проверяет токен в метаданных gRPC вызова.
// Пишущие методы требуют scope constraints:write.
func UnaryAuthInterceptor(v auth.TokenValidator, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		// 1. Извлекаем метаданные из контекста
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "missing metadata")
		}

		// 2. Ищем токен (в gRPC заголовки обычно в нижнем регистре)
		tokens := md.Get("authorization")
		if len(tokens) == 0 {
			return nil, status.Errorf(codes.Unauthenticated, "missing access token")
		}

		claims, err := v.VerifyToken(tokens[0])
		if err != nil {
			logger.Warn("grpc auth failure", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Errorf(codes.Unauthenticated, "invalid access token")
		}

		if isWriteMethod(info.FullMethod) {
			if err := auth.Authorize(claims, auth.ScopeWrite); err != nil {
				return nil, status.Error(codes.PermissionDenied, err.Error())
			}
		}

		return handler(auth.WithClaims(ctx, claims), req)
	}
}

// UnaryTraceInterceptor прокидывает x-trace-id из метаданных в контекст.
func UnaryTraceInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get("x-trace-id"); len(ids) > 0 && ids[0] != "" {
				ctx = WithTraceID(ctx, ids[0])
			}
		}
		return handler(ctx, req)
	}
}

func isWriteMethod(fullMethod string) bool {
	i := strings.LastIndexByte(fullMethod, '/')
	switch fullMethod[i+1:] {
	case "Claim", "Validate", "Release":
		return true
	}
	return false
}
