package models

import (
	"errors"
	"fmt"
)

// Общие ошибки приложения
var (
	// Ресурсы и БД
	ErrNotFound      = errors.New("resource not found") // Также для чужих книг
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidInput  = errors.New("invalid input data")
	ErrRunInProgress = errors.New("chapter generation is already running for this book")

	// Пользователи и токены
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user with this username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrTokenInvalid       = errors.New("token is invalid")
	ErrTokenExpired       = errors.New("token has expired")

	// Генерация
	ErrAIGenerationFailed = errors.New("text generation capability failed")
	ErrValidation         = errors.New("generated content failed validation")

	ErrOutlineGenerationFailed = fmt.Errorf("outline generation failed: %w", ErrValidation)
	ErrChapterGenerationFailed = fmt.Errorf("chapter generation failed: %w", ErrValidation)
)

// ErrorResponse - стандартный JSON ответ об ошибке.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Коды ошибок API
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeTokenInvalid     = "TOKEN_INVALID"
	ErrCodeTokenExpired     = "TOKEN_EXPIRED"
	ErrCodeWrongCredentials = "WRONG_CREDENTIALS"
	ErrCodeDuplicateUser    = "DUPLICATE_USER"
	ErrCodeGenerationFailed = "GENERATION_FAILED"
	ErrCodeAIUnavailable    = "AI_UNAVAILABLE"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
