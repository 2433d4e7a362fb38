package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"farmgate/internal/dto/req"
	"farmgate/internal/dto/resp"
	"farmgate/internal/navigation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	RedisKeyPrefix = "farmgate:auth:session:"
	Issuer         = "farmgate-auth-service"
)

var (
	ErrInvalidCode    = errors.New("invalid verification code")
	ErrInvalidRole    = errors.New("invalid role")
	ErrTokenInvalid   = errors.New("token invalid")
	ErrSessionExpired = errors.New("session expired")
)

// phoneNamespace derives stable user ids from phone numbers.
var phoneNamespace = uuid.MustParse("6f1d1f3e-8a4b-4d0e-9b5c-2f7e1c3a9d20")

var selfServiceRoles = []string{navigation.RoleBuyer, navigation.RoleSeller, navigation.RoleServicePartner}

type AuthConfig struct {
	SignedKey       []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// OTPCode is the accepted one-time code; delivery happens elsewhere.
	OTPCode     string
	AdminPhones []string
}

type AuthService struct {
	redis redis.Cmdable
	cfg   AuthConfig
}

type UserClaims struct {
	UserID string `json:"uid"`
	Phone  string `json:"sub"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func NewAuthService(rdb redis.Cmdable, cfg AuthConfig) *AuthService {
	return &AuthService{redis: rdb, cfg: cfg}
}

// VerifyOTP signs a user in after one-time code verification.
func (s *AuthService) VerifyOTP(ctx context.Context, r req.VerifyOTPReq) (*resp.TokenResp, error) {
	if s.cfg.OTPCode == "" || r.Code != s.cfg.OTPCode {
		return nil, ErrInvalidCode
	}

	role := r.Role
	if role == "" {
		role = navigation.RoleBuyer
	}
	if slices.Contains(s.cfg.AdminPhones, r.Phone) {
		role = navigation.RoleAdmin
	} else if !slices.Contains(selfServiceRoles, role) {
		return nil, ErrInvalidRole
	}

	userID := uuid.NewSHA1(phoneNamespace, []byte(r.Phone)).String()
	tokens, err := s.generateTokens(ctx, userID, r.Phone, role)
	if err != nil {
		return nil, err
	}
	tokens.User = resp.UserInfo{
		ID:    userID,
		Phone: r.Phone,
		Role:  role,
	}
	return tokens, nil
}

// Refresh handles token rotation using the refresh token
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*resp.TokenResp, error) {
	claims, err := s.ParseToken(refreshToken)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s%s", RedisKeyPrefix, claims.UserID)
	storedToken, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}
	if storedToken != refreshToken {
		return nil, ErrTokenInvalid
	}

	return s.generateTokens(ctx, claims.UserID, claims.Phone, claims.Role)
}

func (s *AuthService) Logout(ctx context.Context, userID string) error {
	key := fmt.Sprintf("%s%s", RedisKeyPrefix, userID)
	return s.redis.Del(ctx, key).Err()
}

// ParseToken validates a token signed by this service.
func (s *AuthService) ParseToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(t *jwt.Token) (any, error) {
		return s.cfg.SignedKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *AuthService) generateTokens(ctx context.Context, userID, phone, role string) (*resp.TokenResp, error) {
	now := time.Now()
	atClaims := UserClaims{
		UserID: userID,
		Phone:  phone,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, atClaims).SignedString(s.cfg.SignedKey)
	if err != nil {
		return nil, err
	}

	rtClaims := UserClaims{
		UserID: userID,
		Phone:  phone,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			ID:        uuid.New().String(), // JTI
		},
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, rtClaims).SignedString(s.cfg.SignedKey)
	if err != nil {
		return nil, err
	}

	// refresh tokens are allow-listed, one live session per user
	key := fmt.Sprintf("%s%s", RedisKeyPrefix, userID)
	if err := s.redis.Set(ctx, key, refreshToken, s.cfg.RefreshTokenTTL).Err(); err != nil {
		return nil, err
	}

	return &resp.TokenResp{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}
