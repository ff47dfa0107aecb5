package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/neomorfeo/lifecycled/internal/app"
	"github.com/neomorfeo/lifecycled/internal/domain"
)

func defineOnboarding(t *testing.T, svc *app.LifeCycleService) domain.LifeCycle {
	t.Helper()
	lc, err := svc.DefineLifeCycle(context.Background(), app.LifeCycleInput{
		Code:           "onboarding",
		Active:         true,
		StartsAt:       time.Now().Add(-24 * time.Hour),
		ActivateByCron: true,
	})
	if err != nil {
		t.Fatalf("DefineLifeCycle failed: %v", err)
	}
	return lc
}

func TestDefineLifeCycle_Success(t *testing.T) {
	store := newMemStore()
	svc := app.NewLifeCycleService(store, store)

	lc := defineOnboarding(t, svc)

	if lc.ID == "" {
		t.Error("ID should not be empty")
	}
	if lc.Code != "onboarding" {
		t.Errorf("Code = %q, want %q", lc.Code, "onboarding")
	}
	if _, ok := store.lifeCycles[lc.ID]; !ok {
		t.Error("life cycle was not persisted")
	}
}

func TestDefineLifeCycle_DuplicateCode(t *testing.T) {
	store := newMemStore()
	svc := app.NewLifeCycleService(store, store)
	defineOnboarding(t, svc)

	_, err := svc.DefineLifeCycle(context.Background(), app.LifeCycleInput{Code: "onboarding"})
	var codeErr *domain.CodeConflictError
	if !errors.As(err, &codeErr) {
		t.Fatalf("expected CodeConflictError, got %v", err)
	}
}

func TestDefineLifeCycle_Validation(t *testing.T) {
	svc := app.NewLifeCycleService(newMemStore(), newMemStore())
	start := time.Now()
	before := start.Add(-time.Hour)

	cases := []struct {
		name  string
		in    app.LifeCycleInput
		field string
	}{
		{"empty code", app.LifeCycleInput{Code: "  "}, "code"},
		{"ends before start", app.LifeCycleInput{Code: "x", StartsAt: start, EndsAt: &before}, "ends_at"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.DefineLifeCycle(context.Background(), tc.in)
			var vErr *domain.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tc.field {
				t.Errorf("Field = %q, want %q", vErr.Field, tc.field)
			}
		})
	}
}

func TestAddStage_OrderConflict(t *testing.T) {
	store := newMemStore()
	svc := app.NewLifeCycleService(store, store)
	defineOnboarding(t, svc)

	if _, err := svc.AddStage(context.Background(), "onboarding", app.StageInput{Order: 1, Handler: "welcome"}); err != nil {
		t.Fatalf("first AddStage failed: %v", err)
	}

	_, err := svc.AddStage(context.Background(), "onboarding", app.StageInput{Order: 1, Handler: "other"})
	var orderErr *domain.StageOrderConflictError
	if !errors.As(err, &orderErr) {
		t.Fatalf("expected StageOrderConflictError, got %v", err)
	}
}

func TestAddStage_UnknownLifeCycle(t *testing.T) {
	store := newMemStore()
	svc := app.NewLifeCycleService(store, store)

	_, err := svc.AddStage(context.Background(), "missing", app.StageInput{Order: 1})
	if !errors.Is(err, domain.ErrLifeCycleNotFound) {
		t.Errorf("expected ErrLifeCycleNotFound, got %v", err)
	}
}

func TestStages_Ordered(t *testing.T) {
	store := newMemStore()
	svc := app.NewLifeCycleService(store, store)
	defineOnboarding(t, svc)

	for _, order := range []int{3, 1, 2} {
		if _, err := svc.AddStage(context.Background(), "onboarding", app.StageInput{Order: order}); err != nil {
			t.Fatalf("AddStage(%d) failed: %v", order, err)
		}
	}

	stages, err := svc.Stages(context.Background(), "onboarding")
	if err != nil {
		t.Fatalf("Stages failed: %v", err)
	}
	for i, st := range stages {
		if st.Order != i+1 {
			t.Errorf("stages[%d].Order = %d, want %d", i, st.Order, i+1)
		}
	}
}

func TestEnroll_CreatesPendingStagelessInstance(t *testing.T) {
	store := newMemStore()
	svc := app.NewLifeCycleService(store, store)
	lc := defineOnboarding(t, svc)

	inst, err := svc.Enroll(context.Background(), "onboarding", app.EnrollInput{
		Subject: domain.SubjectRef{Type: "user", ID: "42"},
		Payload: json.RawMessage(`{"plan":"pro"}`),
	})
	if err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}

	if inst.ID == "" {
		t.Error("ID should be generated before persistence")
	}
	if inst.LifeCycleID != lc.ID {
		t.Errorf("LifeCycleID = %q, want %q", inst.LifeCycleID, lc.ID)
	}
	if inst.State != domain.StatePending || inst.CurrentStageID != nil || inst.Attempts != 0 {
		t.Errorf("instance = %+v, want pending, no stage, 0 attempts", inst)
	}

	stored, err := svc.GetInstance(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if string(stored.Payload) != `{"plan":"pro"}` {
		t.Errorf("Payload = %s", stored.Payload)
	}
}

func TestEnroll_Validation(t *testing.T) {
	store := newMemStore()
	svc := app.NewLifeCycleService(store, store)
	defineOnboarding(t, svc)

	_, err := svc.Enroll(context.Background(), "onboarding", app.EnrollInput{Subject: domain.SubjectRef{Type: "user"}})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for missing subject id, got %v", err)
	}

	_, err = svc.Enroll(context.Background(), "onboarding", app.EnrollInput{
		Subject: domain.SubjectRef{Type: "user", ID: "1"},
		Payload: json.RawMessage(`{not json`),
	})
	if !errors.As(err, &vErr) || vErr.Field != "payload" {
		t.Fatalf("expected payload ValidationError, got %v", err)
	}
}

func TestListInstances_RejectsUnknownState(t *testing.T) {
	store := newMemStore()
	svc := app.NewLifeCycleService(store, store)

	bogus := domain.State("archived")
	_, err := svc.ListInstances(context.Background(), domain.InstanceFilter{State: &bogus})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
