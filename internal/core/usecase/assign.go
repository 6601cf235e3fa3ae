package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/records-inbox/internal/core/domain"
	"github.com/kirillkom/records-inbox/internal/core/ports"
)

// AssignUseCase is shared by auto-assignment and manual triage.
type AssignUseCase struct {
	inbox ports.InboxRepository
	now   func() time.Time
}

func NewAssignUseCase(inbox ports.InboxRepository) *AssignUseCase {
	return &AssignUseCase{
		inbox: inbox,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (uc *AssignUseCase) Assign(ctx context.Context, req domain.AssignRequest) (*domain.Document, error) {
	req.InboxID = strings.TrimSpace(req.InboxID)
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	req.Category = strings.TrimSpace(req.Category)
	req.Name = strings.TrimSpace(req.Name)
	if err := validateAssignRequest(req); err != nil {
		return nil, err
	}

	doc := &domain.Document{
		ID:         uuid.NewString(),
		InboxID:    req.InboxID,
		EmployeeID: req.EmployeeID,
		Name:       req.Name,
		Category:   req.Category,
		ExpiryDate: req.ExpiryDate,
		CreatedAt:  uc.now(),
	}
	if err := uc.inbox.Assign(ctx, req, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func validateAssignRequest(req domain.AssignRequest) error {
	var missing []string
	if req.InboxID == "" {
		missing = append(missing, "inbox_id")
	}
	if req.EmployeeID == "" {
		missing = append(missing, "employee_id")
	}
	if req.Category == "" {
		missing = append(missing, "category")
	}
	if req.Name == "" {
		missing = append(missing, "name")
	}
	if len(missing) == 0 {
		return nil
	}
	return domain.WrapError(domain.ErrInvalidInput, "assign", errors.New("missing "+strings.Join(missing, ", ")))
}
