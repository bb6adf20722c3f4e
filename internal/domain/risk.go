package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RiskConfig holds the per-kind single-operation thresholds and the daily
// cumulative withdrawal limit. A zero limit disables the corresponding check.
type RiskConfig struct {
	DepositLimit         decimal.Decimal
	WithdrawLimit        decimal.Decimal
	TransferLimit        decimal.Decimal
	DailyWithdrawalLimit decimal.Decimal
}

// RiskEvaluator classifies committed transactions against configured
// thresholds. It is pure with respect to the ledger: it never mutates
// accounts or transactions, it only produces findings. Its configuration is
// read-only and safe for concurrent use.
type RiskEvaluator struct {
	config RiskConfig
}

// NewRiskEvaluator creates a RiskEvaluator with the given thresholds.
func NewRiskEvaluator(config RiskConfig) *RiskEvaluator {
	return &RiskEvaluator{config: config}
}

// Evaluate returns zero or more advisory findings for a transaction.
// Only SUCCESS transactions produce findings: a rejected operation never
// moved money, so there is nothing to flag.
func (e *RiskEvaluator) Evaluate(txn *Transaction) []*RiskFinding {
	if txn.Status != StatusSuccess {
		return nil
	}

	var findings []*RiskFinding

	switch txn.Kind {
	case KindDeposit:
		if overLimit(txn.Amount.Value, e.config.DepositLimit) {
			findings = append(findings, newFinding(txn, *txn.DestinationID,
				RiskTypeDepositOverLimit, RiskLevelMedium,
				fmt.Sprintf("deposit of %s exceeds configured limit %s",
					txn.Amount.String(), e.config.DepositLimit.StringFixed(2))))
		}
	case KindWithdraw:
		if overLimit(txn.Amount.Value, e.config.WithdrawLimit) {
			findings = append(findings, newFinding(txn, *txn.SourceID,
				RiskTypeWithdrawOverLimit, RiskLevelHigh,
				fmt.Sprintf("withdrawal of %s exceeds configured limit %s",
					txn.Amount.String(), e.config.WithdrawLimit.StringFixed(2))))
		}
	case KindTransfer:
		if overLimit(txn.Amount.Value, e.config.TransferLimit) {
			findings = append(findings, newFinding(txn, *txn.SourceID,
				RiskTypeTransferOverLimit, RiskLevelHigh,
				fmt.Sprintf("transfer of %s exceeds configured limit %s",
					txn.Amount.String(), e.config.TransferLimit.StringFixed(2))))
		}
	}

	return findings
}

// ExceedsDailyLimit reports whether a withdrawal of the given amount, on top
// of what was already withdrawn today, goes over the daily cumulative limit.
// Unlike single-operation findings this is a hard limit: the engine rejects
// the operation rather than flagging it.
func (e *RiskEvaluator) ExceedsDailyLimit(withdrawnToday, amount decimal.Decimal) bool {
	if e.config.DailyWithdrawalLimit.IsZero() {
		return false
	}
	return withdrawnToday.Add(amount).GreaterThan(e.config.DailyWithdrawalLimit)
}

// overLimit reports whether amount meets or exceeds a non-zero limit.
func overLimit(amount, limit decimal.Decimal) bool {
	if limit.IsZero() {
		return false
	}
	return amount.GreaterThanOrEqual(limit)
}

func newFinding(txn *Transaction, accountID uuid.UUID, riskType string, level RiskLevel, description string) *RiskFinding {
	return &RiskFinding{
		ID:            uuid.New(),
		TransactionID: txn.ID,
		AccountID:     accountID,
		RiskType:      riskType,
		RiskLevel:     level,
		Amount:        txn.Amount,
		Status:        RiskFindingPending,
		Description:   description,
		CreatedAt:     time.Now(),
	}
}
