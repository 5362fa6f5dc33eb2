package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/constraint-ledger/internal/audit"
)

// ErrAuditUnavailable - аудит пишется в лог, а не в БД: читать нечего.
var ErrAuditUnavailable = errors.New("audit_service: audit storage is not queryable")

// AuditLogProvider описывает контракт для чтения данных аудита.
// Реализуется postgres.AuditRepo.
type AuditLogProvider interface {
	ByConstraint(ctx context.Context, id string, limit int) ([]audit.CommandRecord, error)
}

type AuditService struct {
	repo AuditLogProvider
}

// NewAuditService принимает nil, если хранилище аудита не поддерживает чтение.
func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

// FetchLogs возвращает последние записи по ограничению, новые первыми.
func (s *AuditService) FetchLogs(ctx context.Context, constraintID string, limit int) ([]audit.CommandRecord, error) {
	if s.repo == nil {
		return nil, ErrAuditUnavailable
	}
	logs, err := s.repo.ByConstraint(ctx, constraintID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}
