package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReplayBalances folds the transaction log into per-account balances,
// starting every account from zero. Only SUCCESS records move money; FAILED
// records are audit-only. For a log produced by the engine the result equals
// the materialized account balances.
func ReplayBalances(log []*Transaction) map[uuid.UUID]decimal.Decimal {
	balances := make(map[uuid.UUID]decimal.Decimal)
	for _, txn := range log {
		if txn.Status != StatusSuccess {
			continue
		}
		if txn.SourceID != nil {
			balances[*txn.SourceID] = balances[*txn.SourceID].Sub(txn.Amount.Value)
		}
		if txn.DestinationID != nil {
			balances[*txn.DestinationID] = balances[*txn.DestinationID].Add(txn.Amount.Value)
		}
	}
	return balances
}
