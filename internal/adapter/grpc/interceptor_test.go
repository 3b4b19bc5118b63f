package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/simaogato/opsdesk-backend/internal/domain"
)

func TestAuthInterceptor(t *testing.T) {
	secret := []byte("test-secret")
	interceptor := AuthInterceptor(secret)

	validToken, err := IssueToken(secret, domain.Caller{Role: "ADMIN", Name: "alice"}, time.Hour)
	require.NoError(t, err)

	wrongSecretToken, err := IssueToken([]byte("other-secret"), domain.Caller{Role: "ADMIN", Name: "alice"}, time.Hour)
	require.NoError(t, err)

	expiredToken, err := IssueToken(secret, domain.Caller{Role: "ADMIN", Name: "alice"}, -time.Minute)
	require.NoError(t, err)

	noRoleToken, err := IssueToken(secret, domain.Caller{Name: "bob"}, time.Hour)
	require.NoError(t, err)

	noExpiryToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{Role: "ADMIN", Name: "alice"}).SignedString(secret)
	require.NoError(t, err)

	tests := []struct {
		name           string
		ctx            context.Context
		handlerCalled  bool
		expectedCode   codes.Code
		expectedErrMsg string
	}{
		{
			name: "Valid Bearer Token",
			ctx: metadata.NewIncomingContext(
				context.Background(),
				metadata.Pairs("authorization", "Bearer "+validToken),
			),
			handlerCalled: true,
			expectedCode:  codes.OK,
		},
		{
			name: "Valid Raw Token",
			ctx: metadata.NewIncomingContext(
				context.Background(),
				metadata.Pairs("authorization", validToken),
			),
			handlerCalled: true,
			expectedCode:  codes.OK,
		},
		{
			name: "Garbage Token",
			ctx: metadata.NewIncomingContext(
				context.Background(),
				metadata.Pairs("authorization", "Bearer wrong-token"),
			),
			expectedCode:   codes.Unauthenticated,
			expectedErrMsg: "invalid token",
		},
		{
			name: "Wrong Secret",
			ctx: metadata.NewIncomingContext(
				context.Background(),
				metadata.Pairs("authorization", "Bearer "+wrongSecretToken),
			),
			expectedCode:   codes.Unauthenticated,
			expectedErrMsg: "invalid token",
		},
		{
			name: "Expired Token",
			ctx: metadata.NewIncomingContext(
				context.Background(),
				metadata.Pairs("authorization", "Bearer "+expiredToken),
			),
			expectedCode:   codes.Unauthenticated,
			expectedErrMsg: "invalid token",
		},
		{
			name: "Token Without Expiry",
			ctx: metadata.NewIncomingContext(
				context.Background(),
				metadata.Pairs("authorization", "Bearer "+noExpiryToken),
			),
			expectedCode:   codes.Unauthenticated,
			expectedErrMsg: "invalid token",
		},
		{
			name: "Token Without Role",
			ctx: metadata.NewIncomingContext(
				context.Background(),
				metadata.Pairs("authorization", "Bearer "+noRoleToken),
			),
			expectedCode:   codes.Unauthenticated,
			expectedErrMsg: "token carries no role",
		},
		{
			name:           "Missing Metadata",
			ctx:            context.Background(),
			expectedCode:   codes.Unauthenticated,
			expectedErrMsg: "missing metadata",
		},
		{
			name: "Missing Authorization Header",
			ctx: metadata.NewIncomingContext(
				context.Background(),
				metadata.Pairs("other-header", "value"),
			),
			expectedCode:   codes.Unauthenticated,
			expectedErrMsg: "missing authorization header",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlerCalled := false
			var gotCaller domain.Caller
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				handlerCalled = true
				gotCaller, _ = CallerFromContext(ctx)
				return "success", nil
			}

			info := &grpc.UnaryServerInfo{
				FullMethod: "/" + ServiceName + "/GetSummary",
			}

			resp, err := interceptor(tt.ctx, "test-request", info, handler)

			assert.Equal(t, tt.handlerCalled, handlerCalled, "handler called status mismatch")

			if tt.expectedCode == codes.OK {
				require.NoError(t, err)
				assert.Equal(t, "success", resp)
				assert.Equal(t, domain.Caller{Role: "ADMIN", Name: "alice"}, gotCaller)
				return
			}

			require.Error(t, err)
			assert.Nil(t, resp)
			st, ok := status.FromError(err)
			require.True(t, ok)
			assert.Equal(t, tt.expectedCode, st.Code())
			assert.Contains(t, st.Message(), tt.expectedErrMsg)
		})
	}
}

func TestAuthInterceptor_RejectsOtherSigningMethods(t *testing.T) {
	secret := []byte("test-secret")
	interceptor := AuthInterceptor(secret)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, SessionClaims{Role: "ADMIN", Name: "alice"}).SignedString(secret)
	require.NoError(t, err)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
	_, err = interceptor(ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler must not run")
		return nil, nil
	})

	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestCallerFromContext_Missing(t *testing.T) {
	_, ok := CallerFromContext(context.Background())
	assert.False(t, ok)
}
