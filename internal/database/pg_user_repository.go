package database

import (
	"context"
	"errors"
	"fmt"

	"storywriter/internal/interfaces"
	"storywriter/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

var _ interfaces.UserRepository = (*pgUserRepository)(nil)

type pgUserRepository struct {
	logger *zap.Logger
}

// NewPgUserRepository создает репозиторий пользователей.
func NewPgUserRepository(logger *zap.Logger) interfaces.UserRepository {
	return &pgUserRepository{logger: logger.Named("PgUserRepo")}
}

const (
	insertUserQuery = `
INSERT INTO users (username, email, password_hash, roles)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at`

	userColumns = `id, username, email, password_hash, roles, created_at`

	getUserByUsernameQuery = `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	getUserByIDQuery       = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	uniqueViolationCode = "23505"
)

// CreateUser вставляет пользователя и заполняет ID и CreatedAt.
func (r *pgUserRepository) CreateUser(ctx context.Context, querier interfaces.DBTX, user *models.User) error {
	logFields := []zap.Field{zap.String("username", user.Username), zap.String("email", user.Email)}
	if len(user.Roles) == 0 {
		user.Roles = []string{models.RoleUser}
	}

	err := querier.QueryRow(ctx, insertUserQuery, user.Username, user.Email, user.PasswordHash, user.Roles).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			r.logger.Warn("Attempted to create duplicate user", append(logFields, zap.String("constraint", pgErr.ConstraintName))...)
			return models.ErrUserAlreadyExists
		}
		r.logger.Error("Failed to create user", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}

	r.logger.Info("User created", append(logFields, zap.Uint64("userID", user.ID))...)
	return nil
}

func (r *pgUserRepository) GetUserByUsername(ctx context.Context, querier interfaces.DBTX, username string) (*models.User, error) {
	return r.getUser(ctx, querier, getUserByUsernameQuery, username)
}

func (r *pgUserRepository) GetUserByID(ctx context.Context, querier interfaces.DBTX, id uint64) (*models.User, error) {
	return r.getUser(ctx, querier, getUserByIDQuery, id)
}

func (r *pgUserRepository) getUser(ctx context.Context, querier interfaces.DBTX, query string, arg any) (*models.User, error) {
	user := &models.User{}
	err := querier.QueryRow(ctx, query, arg).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Roles, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("User not found", zap.Any("key", arg))
			return nil, models.ErrUserNotFound
		}
		r.logger.Error("Failed to get user", zap.Any("key", arg), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return user, nil
}
