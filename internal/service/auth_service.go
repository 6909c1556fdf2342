package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"storywriter/internal/interfaces"
	"storywriter/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// LoginLimiter замедляет подбор пароля. Реализуется cache.LoginThrottle.
type LoginLimiter interface {
	Delay(ctx context.Context, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, ip string) (int64, error)
	Reset(ctx context.Context, ip string) error
}

// TokenDetails - выданный access токен.
type TokenDetails struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthConfig - секреты и сроки жизни токенов.
type AuthConfig struct {
	JWTSecret      string
	PasswordPepper string
	AccessTokenTTL time.Duration
}

// AuthService - регистрация, вход и проверка JWT.
type AuthService struct {
	db      interfaces.DBTX
	users   interfaces.UserRepository
	limiter LoginLimiter
	cfg     AuthConfig
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewAuthService создает сервис. limiter может быть nil.
func NewAuthService(db interfaces.DBTX, users interfaces.UserRepository, limiter LoginLimiter, cfg AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		db:      db,
		users:   users,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.Named("AuthService"),
		sleep:   sleepCtx,
	}
}

// Register создает пользователя с ролью ROLE_USER.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	logFields := []zap.Field{zap.String("username", username), zap.String("email", email)}

	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: имя пользователя и пароль обязательны", models.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		s.logger.Warn("Registration attempt with invalid email format", logFields...)
		return nil, fmt.Errorf("%w: неверный формат email", models.ErrInvalidInput)
	}

	hash, err := hashPassword(password, s.cfg.PasswordPepper)
	if err != nil {
		return nil, fmt.Errorf("ошибка хеширования пароля: %w", err)
	}
	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Roles:        []string{models.RoleUser},
	}
	if err := s.users.CreateUser(ctx, s.db, user); err != nil {
		return nil, err
	}
	s.logger.Info("User registered", append(logFields, zap.Uint64("userID", user.ID))...)
	return user, nil
}

// Login проверяет пароль и выдает access токен. Повторные неудачи с одного IP замедляются.
func (s *AuthService) Login(ctx context.Context, clientIP, username, password string) (*TokenDetails, error) {
	logFields := []zap.Field{zap.String("username", username), zap.String("ip", clientIP)}

	if s.limiter != nil {
		delay, err := s.limiter.Delay(ctx, clientIP)
		if err != nil {
			s.logger.Warn("Failed to read login throttle", append(logFields, zap.Error(err))...)
		} else if delay > 0 {
			s.logger.Info("Throttling login attempt", append(logFields, zap.Duration("delay", delay))...)
			if err := s.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	user, err := s.users.GetUserByUsername(ctx, s.db, strings.TrimSpace(username))
	if err != nil && !errors.Is(err, models.ErrUserNotFound) {
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	if user == nil || !checkPasswordHash(password, user.PasswordHash, s.cfg.PasswordPepper) {
		s.logger.Warn("Login failed", logFields...)
		s.registerFailure(ctx, clientIP)
		return nil, models.ErrInvalidCredentials
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, clientIP); err != nil {
			s.logger.Warn("Failed to reset login throttle", append(logFields, zap.Error(err))...)
		}
	}

	td, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}
	s.logger.Info("User logged in", zap.Uint64("userID", user.ID))
	return td, nil
}

func (s *AuthService) registerFailure(ctx context.Context, ip string) {
	if s.limiter == nil {
		return
	}
	if _, err := s.limiter.RegisterFailure(ctx, ip); err != nil {
		s.logger.Warn("Failed to register login failure", zap.String("ip", ip), zap.Error(err))
	}
}

func (s *AuthService) issueToken(user *models.User) (*TokenDetails, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTokenTTL)
	claims := &models.Claims{
		UserID: user.ID,
		Roles:  user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(user.ID, 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return &TokenDetails{AccessToken: signed, ExpiresAt: expiresAt}, nil
}

// VerifyAccessToken разбирает и проверяет подпись и срок токена.
func (s *AuthService) VerifyAccessToken(tokenString string) (*models.Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, models.ErrTokenExpired
		}
		s.logger.Debug("Access token rejected", zap.Error(err))
		return nil, models.ErrTokenInvalid
	}
	claims, ok := token.Claims.(*models.Claims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, models.ErrTokenInvalid
	}
	return claims, nil
}

// applyPepper - HMAC-SHA256(password, pepper); bcrypt получает фиксированные 32 байта.
func applyPepper(password, pepper string) []byte {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(password))
	return mac.Sum(nil)
}

func hashPassword(password, pepper string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword(applyPepper(password, pepper), bcrypt.DefaultCost)
	return string(bytes), err
}

func checkPasswordHash(password, hash, pepper string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), applyPepper(password, pepper)) == nil
}
