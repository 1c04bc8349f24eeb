package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/savrin/waveline/internal/orchestrator"
	"github.com/savrin/waveline/internal/validate"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeValidation    ErrorCode = "VALIDATION_FAILED"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeInvalidState  ErrorCode = "INVALID_STATE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	// Step и Field заполняются для ошибок валидации.
	Step  string `json:"step,omitempty"`
	Field string `json:"field,omitempty"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет ответ о создании ресурса.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound отправляет ошибку 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// InvalidState отправляет ошибку 422.
func InvalidState(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnprocessableEntity, ErrCodeInvalidState, message)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// ValidationFailed отправляет структурированную ошибку валидации.
func ValidationFailed(w http.ResponseWriter, verr *validate.ValidationError) {
	JSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: ErrorDetail{
		Code:    ErrCodeValidation,
		Message: verr.Message,
		Step:    verr.Step,
		Field:   verr.Field,
	}})
}

// HandleEngineError преобразует ошибку движка в HTTP ответ.
// Возвращает true, если ошибка обработана.
func HandleEngineError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	var verr *validate.ValidationError
	switch {
	case errors.As(err, &verr):
		ValidationFailed(w, verr)
	case errors.Is(err, orchestrator.ErrJobNotFound):
		NotFound(w, "job not found")
	case errors.Is(err, orchestrator.ErrStepNotFound):
		NotFound(w, "step not found")
	case errors.Is(err, orchestrator.ErrJobNotRetryable),
		errors.Is(err, orchestrator.ErrNothingToRetry):
		InvalidState(w, err.Error())
	default:
		InternalError(w, logger, err)
	}
	return true
}
