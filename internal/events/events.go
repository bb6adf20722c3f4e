package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/retail-banking-sim/ledger-core/internal/domain"
)

// EventAmount is the wire representation of a monetary value.
type EventAmount struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currencyCode"`
}

// TransactionCompletedEvent is the payload published when a transaction
// record is committed, both SUCCESS and FAILED.
type TransactionCompletedEvent struct {
	EventID        string      `json:"eventId"`
	EventType      string      `json:"eventType"`
	EventTimestamp string      `json:"eventTimestamp"`
	TransactionID  string      `json:"transactionId"`
	Kind           string      `json:"kind"`
	SourceID       string      `json:"sourceId,omitempty"`
	DestinationID  string      `json:"destinationId,omitempty"`
	Amount         EventAmount `json:"amount"`
	IdempotencyKey string      `json:"idempotencyKey"`
	Status         string      `json:"status"`
	FailureReason  string      `json:"failureReason,omitempty"`
	Timestamp      string      `json:"timestamp"`
}

// RiskFindingEvent is the payload published when a risk finding is recorded.
type RiskFindingEvent struct {
	EventID        string      `json:"eventId"`
	EventType      string      `json:"eventType"`
	EventTimestamp string      `json:"eventTimestamp"`
	FindingID      string      `json:"findingId"`
	TransactionID  string      `json:"transactionId"`
	AccountID      string      `json:"accountId"`
	RiskType       string      `json:"riskType"`
	RiskLevel      string      `json:"riskLevel"`
	Amount         EventAmount `json:"amount"`
	Description    string      `json:"description,omitempty"`
	Timestamp      string      `json:"timestamp"`
}

// NewTransactionCompletedEvent builds the event payload for a committed
// transaction record.
func NewTransactionCompletedEvent(txn *domain.Transaction) *TransactionCompletedEvent {
	event := &TransactionCompletedEvent{
		EventID:        uuid.New().String(),
		EventType:      "transaction.completed",
		EventTimestamp: time.Now().UTC().Format(time.RFC3339),
		TransactionID:  txn.ID.String(),
		Kind:           string(txn.Kind),
		Amount: EventAmount{
			Value:        txn.Amount.String(),
			CurrencyCode: txn.Amount.CurrencyCode,
		},
		IdempotencyKey: txn.IdempotencyKey,
		Status:         string(txn.Status),
		FailureReason:  txn.FailureReason,
		Timestamp:      txn.CreatedAt.UTC().Format(time.RFC3339),
	}
	if txn.SourceID != nil {
		event.SourceID = txn.SourceID.String()
	}
	if txn.DestinationID != nil {
		event.DestinationID = txn.DestinationID.String()
	}
	return event
}

// NewRiskFindingEvent builds the event payload for a recorded risk finding.
func NewRiskFindingEvent(finding *domain.RiskFinding) *RiskFindingEvent {
	return &RiskFindingEvent{
		EventID:        uuid.New().String(),
		EventType:      "risk.finding",
		EventTimestamp: time.Now().UTC().Format(time.RFC3339),
		FindingID:      finding.ID.String(),
		TransactionID:  finding.TransactionID.String(),
		AccountID:      finding.AccountID.String(),
		RiskType:       finding.RiskType,
		RiskLevel:      string(finding.RiskLevel),
		Amount: EventAmount{
			Value:        finding.Amount.String(),
			CurrencyCode: finding.Amount.CurrencyCode,
		},
		Description:    finding.Description,
		Timestamp:      finding.CreatedAt.UTC().Format(time.RFC3339),
	}
}
