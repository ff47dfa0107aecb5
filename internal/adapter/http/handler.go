package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/lifecycled/internal/app"
	"github.com/neomorfeo/lifecycled/internal/domain"
)

const timeLayout = time.RFC3339Nano

// Runner triggers one life cycle pass.
type Runner interface {
	Run(ctx context.Context) (app.RunResult, error)
}

// LifeCycleResponse is the API representation of a life cycle.
type LifeCycleResponse struct {
	ID             string          `json:"id" doc:"Unique identifier"`
	Code           string          `json:"code" doc:"Unique human-readable code"`
	Active         bool            `json:"active" doc:"Whether the life cycle is running"`
	StartsAt       string          `json:"starts_at" doc:"Start of the active period (RFC 3339)"`
	EndsAt         *string         `json:"ends_at,omitempty" doc:"End of the active period (RFC 3339); absent means open-ended"`
	ActivateByCron bool            `json:"activate_by_cron" doc:"Whether periodic runs pick it up"`
	Stages         []StageResponse `json:"stages,omitempty" doc:"Stages in execution order"`
}

// StageResponse is the API representation of a stage.
type StageResponse struct {
	ID           string `json:"id" doc:"Unique identifier"`
	Order        int    `json:"order" doc:"Execution order within the life cycle"`
	Handler      string `json:"handler" doc:"Registered stage handler name"`
	DelaySeconds int64  `json:"delay_seconds" doc:"Wait before this stage runs, counted from the previous stage"`
}

// InstanceResponse is the API representation of a life cycle instance.
type InstanceResponse struct {
	ID             string          `json:"id" doc:"Unique identifier"`
	LifeCycleID    string          `json:"life_cycle_id" doc:"Owning life cycle"`
	CurrentStageID *string         `json:"current_stage_id,omitempty" doc:"Stage the instance is on"`
	State          string          `json:"state" doc:"pending, processing, completed or failed"`
	BatchID        *string         `json:"batch_id,omitempty" doc:"Batch that claimed it while processing"`
	ExecutesAt     *string         `json:"executes_at,omitempty" doc:"Earliest execution time (RFC 3339)"`
	Attempts       int             `json:"attempts" doc:"Failed attempts at the current stage"`
	SubjectType    string          `json:"subject_type" doc:"Subject type tag"`
	SubjectID      string          `json:"subject_id" doc:"Subject identifier"`
	Payload        json.RawMessage `json:"payload,omitempty" doc:"Opaque JSON payload, as enrolled"`
	CreatedAt      string          `json:"created_at" doc:"Creation timestamp (RFC 3339)"`
	UpdatedAt      string          `json:"updated_at" doc:"Last update timestamp (RFC 3339)"`
}

// RunResponse reports one life cycle pass.
type RunResponse struct {
	BatchID    string `json:"batch_id" doc:"Identifier of the claimed batch"`
	Assigned   int64  `json:"assigned" doc:"Instances placed on their first stage"`
	Claimed    int64  `json:"claimed" doc:"Instances moved to processing"`
	Dispatched int    `json:"dispatched" doc:"Stage jobs enqueued"`
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}

func boolOrTrue(b *bool) bool {
	return b == nil || *b
}

func toLifeCycleResponse(lc domain.LifeCycle, stages []domain.Stage) LifeCycleResponse {
	resp := LifeCycleResponse{
		ID:             lc.ID,
		Code:           lc.Code,
		Active:         lc.Active,
		StartsAt:       lc.StartsAt.UTC().Format(timeLayout),
		EndsAt:         formatOptionalTime(lc.EndsAt),
		ActivateByCron: lc.ActivateByCron,
	}
	for _, st := range stages {
		resp.Stages = append(resp.Stages, toStageResponse(st))
	}
	return resp
}

func toStageResponse(st domain.Stage) StageResponse {
	return StageResponse{
		ID:           st.ID,
		Order:        st.Order,
		Handler:      st.Handler,
		DelaySeconds: int64(st.Delay / time.Second),
	}
}

func toInstanceResponse(inst domain.Instance) InstanceResponse {
	return InstanceResponse{
		ID:             inst.ID,
		LifeCycleID:    inst.LifeCycleID,
		CurrentStageID: inst.CurrentStageID,
		State:          string(inst.State),
		BatchID:        inst.BatchID,
		ExecutesAt:     formatOptionalTime(inst.ExecutesAt),
		Attempts:       inst.Attempts,
		SubjectType:    inst.Subject.Type,
		SubjectID:      inst.Subject.ID,
		Payload:        inst.Payload,
		CreatedAt:      inst.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:      inst.UpdatedAt.UTC().Format(timeLayout),
	}
}

// --- Define Life Cycle ---

type DefineLifeCycleInput struct {
	Body struct {
		Code           string     `json:"code" minLength:"1" maxLength:"100" doc:"Unique human-readable code"`
		Active         *bool      `json:"active,omitempty" required:"false" doc:"Whether the life cycle is running (default true)"`
		StartsAt       time.Time  `json:"starts_at" doc:"Start of the active period (RFC 3339)"`
		EndsAt         *time.Time `json:"ends_at,omitempty" required:"false" doc:"End of the active period (RFC 3339)"`
		ActivateByCron *bool      `json:"activate_by_cron,omitempty" required:"false" doc:"Whether periodic runs pick it up (default true)"`
	}
}

type LifeCycleOutput struct {
	Body LifeCycleResponse
}

// --- Get Life Cycle ---

type GetLifeCycleInput struct {
	Code string `path:"code" doc:"Life cycle code"`
}

// --- Add Stage ---

type AddStageInput struct {
	Code string `path:"code" doc:"Life cycle code"`
	Body struct {
		Order        int    `json:"order" doc:"Execution order within the life cycle"`
		Handler      string `json:"handler" minLength:"1" doc:"Registered stage handler name"`
		DelaySeconds int64  `json:"delay_seconds,omitempty" minimum:"0" doc:"Wait before this stage runs"`
	}
}

type StageOutput struct {
	Body StageResponse
}

// --- Enroll ---

type EnrollInput struct {
	Body struct {
		LifeCycle   string     `json:"life_cycle" minLength:"1" doc:"Code of the life cycle to enter"`
		SubjectType string     `json:"subject_type" minLength:"1" doc:"Subject type tag"`
		SubjectID   string     `json:"subject_id" minLength:"1" doc:"Subject identifier"`
		Payload     any        `json:"payload,omitempty" required:"false" doc:"Opaque JSON payload of any shape"`
		ExecutesAt  *time.Time `json:"executes_at,omitempty" required:"false" doc:"Earliest execution time (RFC 3339)"`
	}
}

type InstanceOutput struct {
	Body InstanceResponse
}

// --- Get Instance ---

type GetInstanceInput struct {
	ID string `path:"id" doc:"Instance ID"`
}

// --- List Instances ---

type ListInstancesInput struct {
	LifeCycle string `query:"lifecycle" required:"false" doc:"Filter by life cycle code"`
	State     string `query:"state" required:"false" doc:"Filter by state" enum:"pending,processing,completed,failed"`
	Limit     int    `query:"limit" required:"false" default:"50" doc:"Max results"`
	Offset    int    `query:"offset" required:"false" default:"0" doc:"Pagination offset"`
}

type ListInstancesOutput struct {
	Body []InstanceResponse
}

// --- Run ---

type RunOutput struct {
	Body RunResponse
}

// Register adds all life cycle API routes to the Huma API.
func Register(api huma.API, svc *app.LifeCycleService, runner Runner) {
	huma.Register(api, huma.Operation{
		OperationID: "define-lifecycle",
		Method:      http.MethodPost,
		Path:        "/api/v1/lifecycles",
		Summary:     "Define a new life cycle",
		Tags:        []string{"Life cycles"},
	}, func(ctx context.Context, input *DefineLifeCycleInput) (*LifeCycleOutput, error) {
		lc, err := svc.DefineLifeCycle(ctx, app.LifeCycleInput{
			Code:           input.Body.Code,
			Active:         boolOrTrue(input.Body.Active),
			StartsAt:       input.Body.StartsAt,
			EndsAt:         input.Body.EndsAt,
			ActivateByCron: boolOrTrue(input.Body.ActivateByCron),
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &LifeCycleOutput{Body: toLifeCycleResponse(lc, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-lifecycle",
		Method:      http.MethodGet,
		Path:        "/api/v1/lifecycles/{code}",
		Summary:     "Get a life cycle and its stages",
		Tags:        []string{"Life cycles"},
	}, func(ctx context.Context, input *GetLifeCycleInput) (*LifeCycleOutput, error) {
		lc, err := svc.GetLifeCycle(ctx, input.Code)
		if err != nil {
			return nil, toHumaError(err)
		}
		stages, err := svc.Stages(ctx, input.Code)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &LifeCycleOutput{Body: toLifeCycleResponse(lc, stages)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-stage",
		Method:      http.MethodPost,
		Path:        "/api/v1/lifecycles/{code}/stages",
		Summary:     "Add a stage to a life cycle",
		Tags:        []string{"Life cycles"},
	}, func(ctx context.Context, input *AddStageInput) (*StageOutput, error) {
		st, err := svc.AddStage(ctx, input.Code, app.StageInput{
			Order:   input.Body.Order,
			Handler: input.Body.Handler,
			Delay:   time.Duration(input.Body.DelaySeconds) * time.Second,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &StageOutput{Body: toStageResponse(st)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "enroll-instance",
		Method:      http.MethodPost,
		Path:        "/api/v1/instances",
		Summary:     "Enroll a subject into a life cycle",
		Tags:        []string{"Instances"},
	}, func(ctx context.Context, input *EnrollInput) (*InstanceOutput, error) {
		var payload json.RawMessage
		if input.Body.Payload != nil {
			raw, err := json.Marshal(input.Body.Payload)
			if err != nil {
				return nil, huma.Error422UnprocessableEntity("payload is not serializable", err)
			}
			payload = raw
		}

		inst, err := svc.Enroll(ctx, input.Body.LifeCycle, app.EnrollInput{
			Subject:    domain.SubjectRef{Type: input.Body.SubjectType, ID: input.Body.SubjectID},
			Payload:    payload,
			ExecutesAt: input.Body.ExecutesAt,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &InstanceOutput{Body: toInstanceResponse(inst)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-instance",
		Method:      http.MethodGet,
		Path:        "/api/v1/instances/{id}",
		Summary:     "Get an instance by ID",
		Tags:        []string{"Instances"},
	}, func(ctx context.Context, input *GetInstanceInput) (*InstanceOutput, error) {
		inst, err := svc.GetInstance(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &InstanceOutput{Body: toInstanceResponse(inst)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-instances",
		Method:      http.MethodGet,
		Path:        "/api/v1/instances",
		Summary:     "List instances",
		Tags:        []string{"Instances"},
	}, func(ctx context.Context, input *ListInstancesInput) (*ListInstancesOutput, error) {
		filter := domain.InstanceFilter{
			LifeCycleCode: input.LifeCycle,
			Limit:         input.Limit,
			Offset:        input.Offset,
		}
		if input.State != "" {
			s := domain.State(input.State)
			filter.State = &s
		}

		instances, err := svc.ListInstances(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]InstanceResponse, len(instances))
		for i, inst := range instances {
			resp[i] = toInstanceResponse(inst)
		}
		return &ListInstancesOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "trigger-run",
		Method:      http.MethodPost,
		Path:        "/api/v1/runs",
		Summary:     "Run one life cycle pass now",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, _ *struct{}) (*RunOutput, error) {
		res, err := runner.Run(ctx)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &RunOutput{Body: RunResponse{
			BatchID:    res.BatchID,
			Assigned:   res.Assigned,
			Claimed:    res.Claimed,
			Dispatched: res.Dispatched,
		}}, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	switch {
	case errors.Is(err, domain.ErrLifeCycleNotFound):
		return huma.Error404NotFound("life cycle not found")
	case errors.Is(err, domain.ErrInstanceNotFound):
		return huma.Error404NotFound("instance not found")
	case errors.Is(err, domain.ErrStageNotFound):
		return huma.Error404NotFound("stage not found")
	}

	var codeErr *domain.CodeConflictError
	if errors.As(err, &codeErr) {
		return huma.Error409Conflict(codeErr.Error())
	}

	var orderErr *domain.StageOrderConflictError
	if errors.As(err, &orderErr) {
		return huma.Error409Conflict(orderErr.Error())
	}

	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		return huma.Error422UnprocessableEntity(valErr.Error())
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error422UnprocessableEntity(trErr.Error())
	}

	var dispatchErr *domain.DispatchError
	if errors.As(err, &dispatchErr) {
		return huma.Error503ServiceUnavailable(dispatchErr.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}
