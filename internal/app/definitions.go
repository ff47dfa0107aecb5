package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neomorfeo/lifecycled/internal/domain"
)

// LifeCycleInput describes a life cycle to define.
type LifeCycleInput struct {
	Code           string
	Active         bool
	StartsAt       time.Time
	EndsAt         *time.Time
	ActivateByCron bool
}

// StageInput describes a stage to append to a life cycle.
type StageInput struct {
	Order   int
	Handler string
	Delay   time.Duration
}

// EnrollInput describes a subject entering a life cycle.
type EnrollInput struct {
	Subject    domain.SubjectRef
	Payload    json.RawMessage
	ExecutesAt *time.Time
}

// LifeCycleService manages life cycle definitions and enrolls subjects into them.
type LifeCycleService struct {
	defs      domain.DefinitionRepository
	instances domain.InstanceRepository
}

// NewLifeCycleService creates a service with the given adapters.
func NewLifeCycleService(defs domain.DefinitionRepository, instances domain.InstanceRepository) *LifeCycleService {
	return &LifeCycleService{
		defs:      defs,
		instances: instances,
	}
}

// DefineLifeCycle persists a new life cycle definition.
func (s *LifeCycleService) DefineLifeCycle(ctx context.Context, in LifeCycleInput) (domain.LifeCycle, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return domain.LifeCycle{}, &domain.ValidationError{Field: "code", Reason: "must not be empty"}
	}
	if in.EndsAt != nil && !in.EndsAt.After(in.StartsAt) {
		return domain.LifeCycle{}, &domain.ValidationError{Field: "ends_at", Reason: "must be after starts_at"}
	}

	// Check code uniqueness before creating.
	if _, err := s.defs.GetLifeCycleByCode(ctx, code); err == nil {
		return domain.LifeCycle{}, &domain.CodeConflictError{Code: code}
	}

	id, err := generateID()
	if err != nil {
		return domain.LifeCycle{}, fmt.Errorf("generating life cycle id: %w", err)
	}

	lc := domain.LifeCycle{
		ID:             id,
		Code:           code,
		Active:         in.Active,
		StartsAt:       in.StartsAt.UTC(),
		EndsAt:         in.EndsAt,
		ActivateByCron: in.ActivateByCron,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.defs.CreateLifeCycle(ctx, lc); err != nil {
		return domain.LifeCycle{}, fmt.Errorf("creating life cycle: %w", err)
	}
	return lc, nil
}

// GetLifeCycle returns a life cycle by its code.
func (s *LifeCycleService) GetLifeCycle(ctx context.Context, code string) (domain.LifeCycle, error) {
	return s.defs.GetLifeCycleByCode(ctx, code)
}

// Stages returns the stages of a life cycle in order.
func (s *LifeCycleService) Stages(ctx context.Context, code string) ([]domain.Stage, error) {
	lc, err := s.defs.GetLifeCycleByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.defs.ListStages(ctx, lc.ID)
}

// AddStage appends a stage to the life cycle identified by code.
func (s *LifeCycleService) AddStage(ctx context.Context, code string, in StageInput) (domain.Stage, error) {
	if in.Delay < 0 {
		return domain.Stage{}, &domain.ValidationError{Field: "delay", Reason: "must not be negative"}
	}

	lc, err := s.defs.GetLifeCycleByCode(ctx, code)
	if err != nil {
		return domain.Stage{}, err
	}

	id, err := generateID()
	if err != nil {
		return domain.Stage{}, fmt.Errorf("generating stage id: %w", err)
	}

	stage := domain.Stage{
		ID:          id,
		LifeCycleID: lc.ID,
		Order:       in.Order,
		Handler:     in.Handler,
		Delay:       in.Delay,
	}
	if err := s.defs.CreateStage(ctx, stage); err != nil {
		var orderErr *domain.StageOrderConflictError
		if errors.As(err, &orderErr) {
			return domain.Stage{}, err
		}
		return domain.Stage{}, fmt.Errorf("creating stage: %w", err)
	}
	return stage, nil
}

// Enroll creates a pending, stageless instance for a subject. The id is
// generated here, before anything is persisted.
func (s *LifeCycleService) Enroll(ctx context.Context, code string, in EnrollInput) (domain.Instance, error) {
	if in.Subject.Type == "" || in.Subject.ID == "" {
		return domain.Instance{}, &domain.ValidationError{Field: "subject", Reason: "type and id are required"}
	}
	if len(in.Payload) > 0 && !json.Valid(in.Payload) {
		return domain.Instance{}, &domain.ValidationError{Field: "payload", Reason: "must be valid JSON"}
	}

	lc, err := s.defs.GetLifeCycleByCode(ctx, code)
	if err != nil {
		return domain.Instance{}, err
	}

	id, err := generateID()
	if err != nil {
		return domain.Instance{}, fmt.Errorf("generating instance id: %w", err)
	}

	inst := domain.NewInstance(id, lc.ID, in.Subject, in.Payload, in.ExecutesAt)

	if err := s.instances.CreateInstance(ctx, inst); err != nil {
		return domain.Instance{}, fmt.Errorf("creating instance: %w", err)
	}
	return inst, nil
}

// GetInstance returns an instance by its identifier.
func (s *LifeCycleService) GetInstance(ctx context.Context, id string) (domain.Instance, error) {
	return s.instances.GetInstance(ctx, id)
}

// ListInstances returns instances matching the given filter.
func (s *LifeCycleService) ListInstances(ctx context.Context, filter domain.InstanceFilter) ([]domain.Instance, error) {
	if filter.State != nil && !filter.State.Valid() {
		return nil, &domain.ValidationError{Field: "state", Reason: fmt.Sprintf("unknown state %q", *filter.State)}
	}
	return s.instances.ListInstances(ctx, filter)
}
