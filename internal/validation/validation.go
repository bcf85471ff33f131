// Package validation содержит проверки входных данных платёжных операций.
package validation

import (
	"encoding/json"

	"github.com/earntube/earntube-system/internal/model"
)

// MinWithdrawalAmount — минимальная сумма заявки на вывод средств в рупиях.
const MinWithdrawalAmount int64 = 500

// ParseWithdrawalAmount разбирает сумму вывода из JSON-значения.
// Нечисловое значение, дробная сумма или сумма меньше минимальной считаются
// некорректными.
func ParseWithdrawalAmount(raw json.Number) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	amount, err := raw.Int64()
	if err != nil {
		return 0, false
	}
	if amount < MinWithdrawalAmount {
		return 0, false
	}
	return amount, true
}

// IsValidPaymentDecision проверяет статус решения администратора по платежу.
func IsValidPaymentDecision(status string) bool {
	switch model.PaymentStatus(status) {
	case model.PaymentStatusApproved, model.PaymentStatusRejected:
		return true
	default:
		return false
	}
}

// IsValidWithdrawalStatus проверяет статус заявки на вывод средств.
func IsValidWithdrawalStatus(status string) bool {
	switch model.WithdrawalStatus(status) {
	case model.WithdrawalStatusPending, model.WithdrawalStatusApproved,
		model.WithdrawalStatusRejected, model.WithdrawalStatusCompleted:
		return true
	default:
		return false
	}
}
