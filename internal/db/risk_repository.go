package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retail-banking-sim/ledger-core/internal/domain"
)

// RiskFindingRepository implements domain.RiskFindingRepository using PostgreSQL.
type RiskFindingRepository struct {
	pool *pgxpool.Pool
}

// NewRiskFindingRepository creates a new RiskFindingRepository.
func NewRiskFindingRepository(pool *pgxpool.Pool) *RiskFindingRepository {
	return &RiskFindingRepository{
		pool: pool,
	}
}

// Create persists a new risk finding.
func (r *RiskFindingRepository) Create(ctx context.Context, finding *domain.RiskFinding) error {
	query := `
		INSERT INTO risk_findings (id, transaction_id, account_id, risk_type, risk_level,
			amount_value, amount_currency_code, status, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	args := []any{
		finding.ID,
		finding.TransactionID,
		finding.AccountID,
		finding.RiskType,
		string(finding.RiskLevel),
		finding.Amount.Value,
		finding.Amount.CurrencyCode,
		string(finding.Status),
		finding.Description,
		finding.CreatedAt,
	}

	var err error
	if tx := getTx(ctx); tx != nil {
		_, err = tx.Exec(ctx, query, args...)
	} else {
		_, err = r.pool.Exec(ctx, query, args...)
	}

	if err != nil {
		return fmt.Errorf("failed to create risk finding: %w", mapPgError(err))
	}
	return nil
}

// List returns findings matching the filter, newest first.
func (r *RiskFindingRepository) List(ctx context.Context, filter domain.RiskFindingFilter) ([]*domain.RiskFinding, error) {
	var conditions []string
	var args []any

	if filter.AccountID != nil {
		args = append(args, *filter.AccountID)
		conditions = append(conditions, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.RiskType != nil {
		args = append(args, *filter.RiskType)
		conditions = append(conditions, fmt.Sprintf("risk_type = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := `
		SELECT id, transaction_id, account_id, risk_type, risk_level,
			amount_value, amount_currency_code, status, description, created_at
		FROM risk_findings
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk findings: %w", err)
	}
	defer rows.Close()

	var findings []*domain.RiskFinding
	for rows.Next() {
		var finding domain.RiskFinding
		var riskLevel, status string

		err := rows.Scan(
			&finding.ID,
			&finding.TransactionID,
			&finding.AccountID,
			&finding.RiskType,
			&riskLevel,
			&finding.Amount.Value,
			&finding.Amount.CurrencyCode,
			&status,
			&finding.Description,
			&finding.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk finding: %w", err)
		}

		finding.RiskLevel = domain.RiskLevel(riskLevel)
		finding.Status = domain.RiskFindingStatus(status)
		findings = append(findings, &finding)
	}
	return findings, rows.Err()
}
