// Package ports defines the core interfaces for the bridge.
// This file contains the pipeline stage interfaces for message construction.
package ports

import (
	"context"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
)

// StageType determines when the stage runs in the pipeline.
type StageType string

const (
	// StagePre builds the message from the payload.
	StagePre StageType = "pre"
	// StagePost post-processes the finished message (e.g. re-hosting images).
	StagePost StageType = "post"
)

// StageAction is the result action from a pipeline stage.
type StageAction string

const (
	// ActionAllow continues with the current message.
	ActionAllow StageAction = "allow"
	// ActionDeny drops the message.
	ActionDeny StageAction = "deny"
	// ActionMutate replaces the message with StageOutput.Message.
	ActionMutate StageAction = "mutate"
)

// StageInput is the data sent to a pipeline stage.
type StageInput struct {
	// Payload is the decoded webhook body. Stages must treat it as read-only.
	Payload *domain.WebhookPayload
	// Message is the accumulator. Stages may edit it in place.
	Message *domain.MatrixPayload
	// Metadata carries contextual values such as the hook and room IDs.
	Metadata map[string]any
}

// StageOutput is returned from a pipeline stage.
type StageOutput struct {
	// Action indicates what should happen: allow, deny, or mutate.
	Action StageAction
	// Message is the replacement message (only if Action is mutate).
	Message *domain.MatrixPayload
	// DenyReason explains why the message was dropped.
	DenyReason string
}

// Stage is one layer of the message pipeline.
type Stage interface {
	// Name returns the unique identifier for this stage.
	Name() string
	// Type returns when this stage runs (pre or post).
	Type() StageType
	// Process executes the stage logic.
	Process(ctx context.Context, in *StageInput) (*StageOutput, error)
}

// PipelineExecutor orchestrates pipeline stage execution.
type PipelineExecutor interface {
	// Run executes all pre-stages then all post-stages in order and returns
	// the finished message.
	Run(ctx context.Context, payload *domain.WebhookPayload, meta map[string]any) (*domain.MatrixPayload, error)
}
