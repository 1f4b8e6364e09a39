package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	formforge "github.com/user/formforge"
	"github.com/user/formforge/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrPasswordExpired    = errors.New("password expired")
	ErrOTPRequired        = errors.New("otp login required")
	ErrOTPResendLocked    = errors.New("otp resend limit reached")
	ErrInvalidOTP         = errors.New("invalid or expired otp")
	ErrRateLimited        = errors.New("too many attempts")
	ErrTokenInvalid       = errors.New("invalid token")
)

const (
	TokenTTL          = 15 * time.Minute
	LockoutThreshold  = 5
	LockoutDuration   = 24 * time.Hour
	OTPTTL            = 5 * time.Minute
	OTPResendLimit    = 5
	PasswordLifetime  = 90 * 24 * time.Hour
	MinPasswordLength = 8
)

// SessionClaims is the JWT payload for an authenticated session.
type SessionClaims struct {
	UserID   string         `json:"uid"`
	Username string         `json:"username"`
	Roles    []storage.Role `json:"roles"`
	jwt.RegisteredClaims
}

// Blocklist revokes tokens by JTI before their natural expiry.
type Blocklist interface {
	Add(ctx context.Context, jti, userID string, expiresAt time.Time) error
	Contains(ctx context.Context, jti string) (bool, error)
}

// Service owns registration, login, OTP, token issue/verify and
// lockout bookkeeping.
type Service struct {
	storage   storage.Storage
	blocklist Blocklist
	sms       formforge.SMSGateway
	logger    formforge.Logger
	secret    []byte

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(st storage.Storage, blocklist Blocklist, sms formforge.SMSGateway, logger formforge.Logger, secret []byte) *Service {
	return &Service{
		storage:   st,
		blocklist: blocklist,
		sms:       sms,
		logger:    logger,
		secret:    secret,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// limiter returns the per-identifier login limiter. The lockout
// counter is the real credential guard; the limiter only blunts
// hammering, so the burst sits above the lockout threshold.
func (s *Service) limiter(identifier string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[identifier]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Second), 20)
		s.limiters[identifier] = l
	}
	return l
}

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,64}$`)
	emailRe    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	mobileRe   = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// RegisterInput is the self-registration payload.
type RegisterInput struct {
	Username   string   `json:"username"`
	Email      string   `json:"email"`
	Password   string   `json:"password"`
	EmployeeID string   `json:"employee_id,omitempty"`
	Mobile     string   `json:"mobile,omitempty"`
	UserType   string   `json:"user_type,omitempty"`
	Roles      []string `json:"roles,omitempty"`
}

// Register validates the payload, hashes the password and creates the
// user. Identifier uniqueness is enforced by the store.
func (s *Service) Register(ctx context.Context, in RegisterInput) (storage.User, error) {
	if !usernameRe.MatchString(in.Username) {
		return storage.User{}, fmt.Errorf("username must be 3-64 characters of letters, digits, dot, dash or underscore")
	}
	if !emailRe.MatchString(in.Email) {
		return storage.User{}, fmt.Errorf("invalid email address")
	}
	if len(in.Password) < MinPasswordLength {
		return storage.User{}, fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if in.Mobile != "" && !mobileRe.MatchString(in.Mobile) {
		return storage.User{}, fmt.Errorf("invalid mobile number")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return storage.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	userType := storage.UserTypeGeneral
	if in.EmployeeID != "" {
		userType = storage.UserTypeEmployee
	}
	if in.UserType != "" {
		userType = storage.UserType(in.UserType)
	}

	roles := []storage.Role{storage.RoleUser}
	for _, r := range in.Roles {
		roles = append(roles, storage.Role(r))
	}

	user := storage.User{
		ID:                 uuid.New().String(),
		Username:           strings.ToLower(in.Username),
		Email:              strings.ToLower(in.Email),
		EmployeeID:         in.EmployeeID,
		Mobile:             in.Mobile,
		UserType:           userType,
		Password:           string(hash),
		PasswordExpiration: time.Now().Add(PasswordLifetime),
		Roles:              roles,
		CreatedAt:          time.Now(),
	}
	if err := s.storage.CreateUser(ctx, user); err != nil {
		return storage.User{}, err
	}
	user.Password = ""
	return user, nil
}

// Login authenticates by identifier (email, username or employee id)
// and password. Five consecutive failures lock the account for 24
// hours; a success resets the counter.
func (s *Service) Login(ctx context.Context, identifier, password string) (storage.User, string, error) {
	if !s.limiter(identifier).Allow() {
		return storage.User{}, "", ErrRateLimited
	}

	user, err := s.storage.GetUserByIdentifier(ctx, strings.ToLower(identifier))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.User{}, "", ErrInvalidCredentials
		}
		return storage.User{}, "", err
	}

	if user.LockUntil != nil && user.LockUntil.After(time.Now()) {
		return storage.User{}, "", ErrAccountLocked
	}

	// General accounts authenticate with mobile OTP only.
	if user.UserType == storage.UserTypeGeneral {
		return storage.User{}, "", ErrOTPRequired
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		s.recordFailure(ctx, &user)
		return storage.User{}, "", ErrInvalidCredentials
	}

	if !user.PasswordExpiration.IsZero() && user.PasswordExpiration.Before(time.Now()) {
		return storage.User{}, "", ErrPasswordExpired
	}

	s.recordSuccess(ctx, &user)

	token, err := s.IssueToken(user)
	if err != nil {
		return storage.User{}, "", err
	}
	user.Password = ""
	return user, token, nil
}

func (s *Service) recordFailure(ctx context.Context, user *storage.User) {
	user.FailedLoginAttempts++
	if user.FailedLoginAttempts >= LockoutThreshold {
		until := time.Now().Add(LockoutDuration)
		user.LockUntil = &until
		s.logger.Warn("account locked after repeated failures", "user_id", user.ID)
	}
	if err := s.storage.UpdateUser(ctx, *user); err != nil {
		s.logger.Error("failed to record login failure", "user_id", user.ID, "error", err)
	}
}

func (s *Service) recordSuccess(ctx context.Context, user *storage.User) {
	now := time.Now()
	user.FailedLoginAttempts = 0
	user.LockUntil = nil
	user.OTPResendCount = 0
	user.LastLogin = &now
	if err := s.storage.UpdateUser(ctx, *user); err != nil {
		s.logger.Error("failed to record login", "user_id", user.ID, "error", err)
	}
}

// Unlock clears a lockout; admin-only at the handler layer.
func (s *Service) Unlock(ctx context.Context, userID string) error {
	user, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	user.FailedLoginAttempts = 0
	user.LockUntil = nil
	user.OTPResendCount = 0
	return s.storage.UpdateUser(ctx, user)
}

// RequestOTP generates a six-digit code for the mobile and sends it
// via the SMS gateway. Five sends without a successful verification
// lock further resends until the next login or unlock.
func (s *Service) RequestOTP(ctx context.Context, mobile string) error {
	user, err := s.storage.GetUserByMobile(ctx, mobile)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Do not leak which mobiles exist.
			return nil
		}
		return err
	}
	if user.LockUntil != nil && user.LockUntil.After(time.Now()) {
		return ErrAccountLocked
	}
	if user.OTPResendCount >= OTPResendLimit {
		return ErrOTPResendLocked
	}

	code, err := generateOTP()
	if err != nil {
		return err
	}
	expires := time.Now().Add(OTPTTL)
	user.OTP = code
	user.OTPExpiration = &expires
	user.OTPResendCount++
	if err := s.storage.UpdateUser(ctx, user); err != nil {
		return err
	}

	if s.sms != nil {
		if err := s.sms.SendOTP(ctx, mobile, code); err != nil {
			s.logger.Error("failed to send otp", "user_id", user.ID, "error", err)
		}
	}
	return nil
}

// VerifyOTP logs the user in with a one-time code. Codes are single
// use and expire five minutes after issue.
func (s *Service) VerifyOTP(ctx context.Context, mobile, code string) (storage.User, string, error) {
	if !s.limiter("otp:" + mobile).Allow() {
		return storage.User{}, "", ErrRateLimited
	}
	user, err := s.storage.GetUserByMobile(ctx, mobile)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.User{}, "", ErrInvalidOTP
		}
		return storage.User{}, "", err
	}
	if user.LockUntil != nil && user.LockUntil.After(time.Now()) {
		return storage.User{}, "", ErrAccountLocked
	}
	if user.OTP == "" || user.OTP != code ||
		user.OTPExpiration == nil || user.OTPExpiration.Before(time.Now()) {
		s.recordFailure(ctx, &user)
		return storage.User{}, "", ErrInvalidOTP
	}

	user.OTP = ""
	user.OTPExpiration = nil
	s.recordSuccess(ctx, &user)

	token, err := s.IssueToken(user)
	if err != nil {
		return storage.User{}, "", err
	}
	user.Password = ""
	return user, token, nil
}

func generateOTP() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	digits := make([]byte, 6)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	return string(digits), nil
}

// IssueToken mints a signed session token with a fresh JTI.
func (s *Service) IssueToken(user storage.User) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		UserID:   user.ID,
		Username: user.Username,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and validates a session token, rejecting
// blocklisted JTIs.
func (s *Service) VerifyToken(ctx context.Context, tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if s.blocklist != nil && claims.ID != "" {
		blocked, err := s.blocklist.Contains(ctx, claims.ID)
		if err != nil {
			s.logger.Error("blocklist lookup failed", "jti", claims.ID, "error", err)
			return nil, ErrTokenInvalid
		}
		if blocked {
			return nil, ErrTokenInvalid
		}
	}
	return claims, nil
}

// Logout revokes the token's JTI until its natural expiry.
func (s *Service) Logout(ctx context.Context, claims *SessionClaims) error {
	if s.blocklist == nil || claims.ID == "" {
		return nil
	}
	expires := time.Now().Add(TokenTTL)
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return s.blocklist.Add(ctx, claims.ID, claims.UserID, expires)
}

// ChangePassword verifies the current password and installs a new one,
// resetting the 90 day expiry window.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}
	if len(next) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.Password = string(hash)
	user.PasswordExpiration = time.Now().Add(PasswordLifetime)
	return s.storage.UpdateUser(ctx, user)
}
