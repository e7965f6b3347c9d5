package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
)

const tracerName = "github.com/tjfontaine/matrix-webhook-bridge/internal/pipeline"

// Metadata keys set by the receiver.
const (
	MetaHookID    = "hook_id"
	MetaRoomID    = "room_id"
	MetaRequestID = "request_id"
)

// Executor orchestrates pipeline stage execution.
// It maintains ordered lists of pre and post stages and executes them sequentially.
type Executor struct {
	preStages  []ports.Stage
	postStages []ports.Stage
	tracer     trace.Tracer
}

// ExecutorConfig configures an executor from stage configurations.
type ExecutorConfig struct {
	Stages []StageConfig
}

// StageConfig is the configuration for a single stage.
type StageConfig struct {
	Order int
	Stage ports.Stage
}

// NewExecutor creates an executor from configuration. Stages with equal
// Order keep their registration order.
func NewExecutor(cfg ExecutorConfig) *Executor {
	var preStages, postStages []StageConfig

	for _, s := range cfg.Stages {
		switch s.Stage.Type() {
		case ports.StagePre:
			preStages = append(preStages, s)
		case ports.StagePost:
			postStages = append(postStages, s)
		}
	}

	sort.SliceStable(preStages, func(i, j int) bool {
		return preStages[i].Order < preStages[j].Order
	})
	sort.SliceStable(postStages, func(i, j int) bool {
		return postStages[i].Order < postStages[j].Order
	})

	e := &Executor{
		preStages:  make([]ports.Stage, len(preStages)),
		postStages: make([]ports.Stage, len(postStages)),
		tracer:     otel.Tracer(tracerName),
	}
	for i, s := range preStages {
		e.preStages[i] = s.Stage
	}
	for i, s := range postStages {
		e.postStages[i] = s.Stage
	}

	return e
}

// NewOrderedExecutor creates an executor that runs the stages in the order given.
func NewOrderedExecutor(stages ...ports.Stage) *Executor {
	cfg := ExecutorConfig{Stages: make([]StageConfig, len(stages))}
	for i, s := range stages {
		cfg.Stages[i] = StageConfig{Order: i, Stage: s}
	}
	return NewExecutor(cfg)
}

// Run builds a message from the payload by running every pre stage and then
// every post stage.
func (e *Executor) Run(ctx context.Context, payload *domain.WebhookPayload, meta map[string]any) (*domain.MatrixPayload, error) {
	msg, err := e.RunPre(ctx, payload, domain.NewMatrixPayload(), meta)
	if err != nil {
		return nil, err
	}
	return e.RunPost(ctx, payload, msg, meta)
}

// RunPre executes all pre-stages in order.
// Returns the (possibly mutated) message or an error if denied.
func (e *Executor) RunPre(ctx context.Context, payload *domain.WebhookPayload, msg *domain.MatrixPayload, meta map[string]any) (*domain.MatrixPayload, error) {
	return e.run(ctx, e.preStages, payload, msg, meta)
}

// RunPost executes all post-stages in order.
// Returns the (possibly mutated) message or an error if denied.
func (e *Executor) RunPost(ctx context.Context, payload *domain.WebhookPayload, msg *domain.MatrixPayload, meta map[string]any) (*domain.MatrixPayload, error) {
	return e.run(ctx, e.postStages, payload, msg, meta)
}

func (e *Executor) run(ctx context.Context, stages []ports.Stage, payload *domain.WebhookPayload, msg *domain.MatrixPayload, meta map[string]any) (*domain.MatrixPayload, error) {
	current := msg
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		output, err := e.process(ctx, stage, &ports.StageInput{
			Payload:  payload,
			Message:  current,
			Metadata: meta,
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline stage %s error: %w", stage.Name(), err)
		}

		switch output.Action {
		case ports.ActionDeny:
			reason := output.DenyReason
			if reason == "" {
				reason = "denied by pipeline stage " + stage.Name()
			}
			return nil, &DeniedError{
				StageName: stage.Name(),
				Reason:    reason,
			}
		case ports.ActionMutate:
			if output.Message != nil {
				current = output.Message
			}
		case ports.ActionAllow:
			// Continue with current message
		}
	}

	return current, nil
}

func (e *Executor) process(ctx context.Context, stage ports.Stage, in *ports.StageInput) (*ports.StageOutput, error) {
	ctx, span := e.tracer.Start(ctx, "pipeline."+stage.Name(),
		trace.WithAttributes(
			attribute.String("pipeline.stage", stage.Name()),
			attribute.String("pipeline.stage_type", string(stage.Type())),
		))
	defer span.End()

	output, err := stage.Process(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if output == nil {
		output = &ports.StageOutput{Action: ports.ActionAllow}
	}
	span.SetAttributes(attribute.String("pipeline.action", string(output.Action)))
	return output, nil
}

// Len returns the number of configured stages.
func (e *Executor) Len() int {
	return len(e.preStages) + len(e.postStages)
}

// HasPostStages returns true if there are any post-stages configured.
func (e *Executor) HasPostStages() bool {
	return len(e.postStages) > 0
}

// DeniedError is returned when a pipeline stage drops a message.
type DeniedError struct {
	StageName string
	Reason    string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("pipeline denied by %s: %s", e.StageName, e.Reason)
}

// IsDenied returns true if the error is a pipeline denial.
func IsDenied(err error) bool {
	var denied *DeniedError
	return errors.As(err, &denied)
}

// Ensure Executor implements the interface.
var _ ports.PipelineExecutor = (*Executor)(nil)
