package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrUnauthorized       = errors.New("unauthorized")
)

const (
	CodeInsufficientStock  = "INSUFFICIENT_STOCK"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInternal           = "INTERNAL"
)

// HTTPError はhandlerでそのままレスポンスにできるエラー。
// Errに分類用のセンチネルを持つので errors.Is で判定できる。
type HTTPError struct {
	Status    int
	Code      string
	Message   string
	ProductID int64
	Err       error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func NewHTTPError(status int, message string) error {
	he := &HTTPError{Status: status, Message: message}
	switch status {
	case http.StatusBadRequest:
		he.Code, he.Err = CodeValidation, ErrValidation
	case http.StatusUnauthorized:
		he.Code, he.Err = CodeUnauthorized, ErrUnauthorized
	case http.StatusNotFound:
		he.Code, he.Err = CodeNotFound, ErrNotFound
	case http.StatusServiceUnavailable:
		he.Code, he.Err = CodeStorageUnavailable, ErrStorageUnavailable
	default:
		he.Code = CodeInternal
	}
	return he
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

func NewValidationError(message string) error {
	return NewHTTPError(http.StatusBadRequest, message)
}

func newNotFound() error {
	return NewHTTPError(http.StatusNotFound, "not found")
}

func newInsufficientStock(productID int64, name string) error {
	return &HTTPError{
		Status:    http.StatusConflict,
		Code:      CodeInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock for product %d (%s)", productID, name),
		ProductID: productID,
		Err:       ErrInsufficientStock,
	}
}

func newInvalidTransition(from, to string) error {
	return &HTTPError{
		Status:  http.StatusConflict,
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
		Err:     ErrInvalidTransition,
	}
}

// インフラ起因の失敗。原因はログ用に保持する。
func newStorageUnavailable(cause error) error {
	return &HTTPError{
		Status:  http.StatusServiceUnavailable,
		Code:    CodeStorageUnavailable,
		Message: "storage unavailable",
		Err:     fmt.Errorf("%w: %v", ErrStorageUnavailable, cause),
	}
}

// HTTPErrorでなければストレージ障害として扱う
func classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsHTTPError(err); ok {
		return err
	}
	return newStorageUnavailable(err)
}

func newUnauthorized() error {
	return NewHTTPError(http.StatusUnauthorized, "unauthorized")
}
