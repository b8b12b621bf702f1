package validator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"farmstore/internal/usecase"
)

const (
	maxCartLines   = 50
	maxLineQty     = 999
	maxNameLen     = 255
	maxAddressLen  = 1000
	maxIdemKeyLen  = 255
	maxPhoneDigits = 20
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9][0-9\- ]*$`)
)

type checkoutValidator struct{}

// Usecaseは interface を依存注入
func NewCheckoutValidator() usecase.CheckoutValidator {
	return &checkoutValidator{}
}

// チェックアウトの入力を検証（商品の存在・販売可否はledgerが見る）
func (v *checkoutValidator) ValidateCheckout(in usecase.CheckoutInput) error {
	if len(in.Lines) == 0 {
		return usecase.NewValidationError("cart is empty")
	}
	if len(in.Lines) > maxCartLines {
		return usecase.NewValidationError(fmt.Sprintf("too many lines (max %d)", maxCartLines))
	}
	for _, l := range in.Lines {
		if l.ProductID <= 0 {
			return usecase.NewValidationError("invalid product id")
		}
		if l.Quantity <= 0 || l.Quantity > maxLineQty {
			return usecase.NewValidationError(fmt.Sprintf("quantity for product %d must be between 1 and %d", l.ProductID, maxLineQty))
		}
	}

	// 顧客情報
	name := strings.TrimSpace(in.Customer.Name)
	if name == "" {
		return usecase.NewValidationError("customer name required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return usecase.NewValidationError("customer name too long")
	}
	if !isEmailLike(strings.TrimSpace(in.Customer.Email)) {
		return usecase.NewValidationError("invalid email")
	}
	if phone := strings.TrimSpace(in.Customer.Phone); phone != "" {
		if !phoneRe.MatchString(phone) || countDigits(phone) > maxPhoneDigits {
			return usecase.NewValidationError("invalid phone")
		}
	}

	// 配送
	if !in.DeliveryMethod.Valid() {
		return usecase.NewValidationError("invalid delivery method")
	}
	addr := strings.TrimSpace(in.DeliveryAddress)
	if in.DeliveryMethod.NeedsAddress() && addr == "" {
		return usecase.NewValidationError("delivery address required")
	}
	if utf8.RuneCountInString(addr) > maxAddressLen {
		return usecase.NewValidationError("delivery address too long")
	}

	if len(strings.TrimSpace(in.IdempotencyKey)) > maxIdemKeyLen {
		return usecase.NewValidationError("invalid idempotency key")
	}
	return nil
}

// 簡易メール形式をチェック
func isEmailLike(s string) bool {
	return emailRe.MatchString(s)
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
