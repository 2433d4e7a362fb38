package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"farmgate/internal/dto/req"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryRedis implements the handful of commands the auth service issues.
type memoryRedis struct {
	redis.Cmdable

	mu   sync.Mutex
	data map[string]string
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}}
}

func (m *memoryRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := redis.NewStringCmd(ctx, "get", key)
	if v, ok := m.data[key]; ok {
		cmd.SetVal(v)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (m *memoryRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	cmd := redis.NewStatusCmd(ctx, "set", key)
	cmd.SetVal("OK")
	return cmd
}

func (m *memoryRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	cmd := redis.NewIntCmd(ctx, "del")
	cmd.SetVal(n)
	return cmd
}

func newTestAuth(rdb redis.Cmdable) *AuthService {
	return NewAuthService(rdb, AuthConfig{
		SignedKey:       []byte("test-secret"),
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		OTPCode:         "123456",
		AdminPhones:     []string{"9000000000"},
	})
}

func TestAuth_VerifyOTP(t *testing.T) {
	tests := []struct {
		name     string
		in       req.VerifyOTPReq
		wantRole string
		wantErr  error
	}{
		{"default role is buyer", req.VerifyOTPReq{Phone: "9876543210", Code: "123456"}, "buyer", nil},
		{"seller", req.VerifyOTPReq{Phone: "9876543210", Code: "123456", Role: "seller"}, "seller", nil},
		{"service partner", req.VerifyOTPReq{Phone: "9876543211", Code: "123456", Role: "service_partner"}, "service_partner", nil},
		{"admin phone overrides role", req.VerifyOTPReq{Phone: "9000000000", Code: "123456", Role: "buyer"}, "admin", nil},
		{"admin cannot be self-assigned", req.VerifyOTPReq{Phone: "9876543210", Code: "123456", Role: "admin"}, "", ErrInvalidRole},
		{"wrong code", req.VerifyOTPReq{Phone: "9876543210", Code: "000000"}, "", ErrInvalidCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestAuth(newMemoryRedis())
			tokens, err := svc.VerifyOTP(context.Background(), tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, tokens.User.Role)
			assert.Equal(t, tt.in.Phone, tokens.User.Phone)

			claims, err := svc.ParseToken(tokens.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, tokens.User.ID, claims.UserID)
			assert.Equal(t, tt.wantRole, claims.Role)
		})
	}
}

func TestAuth_StableUserID(t *testing.T) {
	svc := newTestAuth(newMemoryRedis())
	a, err := svc.VerifyOTP(context.Background(), req.VerifyOTPReq{Phone: "9876543210", Code: "123456"})
	require.NoError(t, err)
	b, err := svc.VerifyOTP(context.Background(), req.VerifyOTPReq{Phone: "9876543210", Code: "123456", Role: "seller"})
	require.NoError(t, err)
	assert.Equal(t, a.User.ID, b.User.ID)
}

func TestAuth_RefreshAndLogout(t *testing.T) {
	rdb := newMemoryRedis()
	svc := newTestAuth(rdb)
	ctx := context.Background()

	tokens, err := svc.VerifyOTP(ctx, req.VerifyOTPReq{Phone: "9876543210", Code: "123456", Role: "seller"})
	require.NoError(t, err)

	rotated, err := svc.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// the previous refresh token is no longer allow-listed
	_, err = svc.Refresh(ctx, tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	require.NoError(t, svc.Logout(ctx, tokens.User.ID))
	_, err = svc.Refresh(ctx, rotated.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestAuth_ParseTokenRejects(t *testing.T) {
	svc := newTestAuth(newMemoryRedis())
	now := time.Now()

	sign := func(key []byte, issuer string, method jwt.SigningMethod) string {
		claims := UserClaims{
			UserID: "u1",
			Phone:  "9876543210",
			Role:   "buyer",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
				Issuer:    issuer,
			},
		}
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}

	good := sign([]byte("test-secret"), Issuer, jwt.SigningMethodHS256)
	claims, err := svc.ParseToken(good)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)

	tests := map[string]string{
		"wrong key":    sign([]byte("other"), Issuer, jwt.SigningMethodHS256),
		"wrong issuer": sign([]byte("test-secret"), "someone-else", jwt.SigningMethodHS256),
		"wrong method": sign([]byte("test-secret"), Issuer, jwt.SigningMethodHS512),
		"garbage":      "not-a-token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ParseToken(token)
			assert.ErrorIs(t, err, ErrTokenInvalid)
		})
	}
}
