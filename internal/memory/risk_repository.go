package memory

import (
	"context"

	"github.com/retail-banking-sim/ledger-core/internal/domain"
)

// RiskFindingRepository implements domain.RiskFindingRepository on the
// in-memory store.
type RiskFindingRepository struct {
	store *Store
}

// NewRiskFindingRepository creates a new RiskFindingRepository.
func NewRiskFindingRepository(store *Store) *RiskFindingRepository {
	return &RiskFindingRepository{store: store}
}

// Create persists a new risk finding. Within a transaction scope the finding
// is staged and becomes visible at commit.
func (r *RiskFindingRepository) Create(ctx context.Context, finding *domain.RiskFinding) error {
	if tx := getTx(ctx); tx != nil {
		tx.stagedFindings = append(tx.stagedFindings, cloneFinding(finding))
		return nil
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, cloneFinding(finding))
	return nil
}

// List returns findings matching the filter, newest first.
func (r *RiskFindingRepository) List(ctx context.Context, filter domain.RiskFindingFilter) ([]*domain.RiskFinding, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var findings []*domain.RiskFinding
	for i := len(s.findings) - 1; i >= 0; i-- {
		finding := s.findings[i]
		if !matchesFilter(finding, filter) {
			continue
		}
		findings = append(findings, cloneFinding(finding))
	}
	return findings, nil
}

func matchesFilter(finding *domain.RiskFinding, filter domain.RiskFindingFilter) bool {
	if filter.AccountID != nil && finding.AccountID != *filter.AccountID {
		return false
	}
	if filter.Status != nil && finding.Status != *filter.Status {
		return false
	}
	if filter.RiskType != nil && finding.RiskType != *filter.RiskType {
		return false
	}
	if filter.Since != nil && finding.CreatedAt.Before(*filter.Since) {
		return false
	}
	return true
}
