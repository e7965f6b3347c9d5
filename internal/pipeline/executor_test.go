package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
)

// mockStage is a test helper that records calls and returns configured responses.
type mockStage struct {
	name      string
	stageType ports.StageType
	output    *ports.StageOutput
	err       error
	calls     []*ports.StageInput
	callOrder *[]string
	fn        func(in *ports.StageInput)
}

func (s *mockStage) Name() string          { return s.name }
func (s *mockStage) Type() ports.StageType { return s.stageType }

func (s *mockStage) Process(ctx context.Context, in *ports.StageInput) (*ports.StageOutput, error) {
	s.calls = append(s.calls, in)
	if s.callOrder != nil {
		*s.callOrder = append(*s.callOrder, s.name)
	}
	if s.fn != nil {
		s.fn(in)
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.output != nil {
		return s.output, nil
	}
	return &ports.StageOutput{Action: ports.ActionAllow}, nil
}

func TestExecutor_Run_Empty(t *testing.T) {
	e := NewExecutor(ExecutorConfig{})

	msg, err := e.Run(context.Background(), &domain.WebhookPayload{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Event.Body != "" {
		t.Errorf("expected empty body, got %q", msg.Event.Body)
	}
	if msg.Event.MsgType != "m.text" {
		t.Errorf("expected m.text, got %q", msg.Event.MsgType)
	}
}

func TestExecutor_Run_AllowAccumulates(t *testing.T) {
	stage := &mockStage{
		name:      "body",
		stageType: ports.StagePre,
		fn: func(in *ports.StageInput) {
			in.Message.Event.Body = in.Payload.Text
		},
	}

	e := NewOrderedExecutor(stage)
	payload := &domain.WebhookPayload{}
	payload.Text = "hello"

	msg, err := e.Run(context.Background(), payload, map[string]any{"hook_id": "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Event.Body != "hello" {
		t.Errorf("expected body 'hello', got %q", msg.Event.Body)
	}
	if len(stage.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(stage.calls))
	}
	if stage.calls[0].Metadata["hook_id"] != "abc" {
		t.Errorf("metadata not passed through: %v", stage.calls[0].Metadata)
	}
}

func TestExecutor_Run_Deny(t *testing.T) {
	after := &mockStage{name: "after", stageType: ports.StagePre}
	e := NewOrderedExecutor(
		&mockStage{
			name:      "deny-stage",
			stageType: ports.StagePre,
			output: &ports.StageOutput{
				Action:     ports.ActionDeny,
				DenyReason: "blocked",
			},
		},
		after,
	)

	_, err := e.Run(context.Background(), &domain.WebhookPayload{}, nil)
	if err == nil {
		t.Fatal("expected error on deny")
	}
	if !IsDenied(err) {
		t.Errorf("expected DeniedError, got %T", err)
	}

	var denied *DeniedError
	errors.As(err, &denied)
	if denied.StageName != "deny-stage" {
		t.Errorf("expected stage name 'deny-stage', got %q", denied.StageName)
	}
	if denied.Reason != "blocked" {
		t.Errorf("unexpected reason: %s", denied.Reason)
	}
	if len(after.calls) != 0 {
		t.Error("stage after a deny must not run")
	}
}

func TestExecutor_Run_DenyDefaultReason(t *testing.T) {
	e := NewOrderedExecutor(&mockStage{
		name:      "quiet",
		stageType: ports.StagePre,
		output:    &ports.StageOutput{Action: ports.ActionDeny},
	})

	_, err := e.Run(context.Background(), &domain.WebhookPayload{}, nil)
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.Reason != "denied by pipeline stage quiet" {
		t.Errorf("unexpected reason: %s", denied.Reason)
	}
}

func TestExecutor_Run_Mutate(t *testing.T) {
	replacement := domain.NewMatrixPayload()
	replacement.Event.Body = "replaced"

	e := NewOrderedExecutor(&mockStage{
		name:      "mutate-stage",
		stageType: ports.StagePre,
		output: &ports.StageOutput{
			Action:  ports.ActionMutate,
			Message: replacement,
		},
	})

	msg, err := e.Run(context.Background(), &domain.WebhookPayload{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != replacement {
		t.Error("expected mutated message")
	}
}

func TestExecutor_Run_StageError(t *testing.T) {
	boom := errors.New("boom")
	after := &mockStage{name: "after", stageType: ports.StagePost}
	e := NewOrderedExecutor(
		&mockStage{name: "broken", stageType: ports.StagePre, err: boom},
		after,
	)

	_, err := e.Run(context.Background(), &domain.WebhookPayload{}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped stage error, got %v", err)
	}
	if IsDenied(err) {
		t.Error("stage errors are not denials")
	}
	if len(after.calls) != 0 {
		t.Error("post stage must not run after a failure")
	}
}

func TestExecutor_Run_OrderedExecution(t *testing.T) {
	var callOrder []string

	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{
			{Order: 0, Stage: &mockStage{name: "post", stageType: ports.StagePost, callOrder: &callOrder}},
			{Order: 2, Stage: &mockStage{name: "second", stageType: ports.StagePre, callOrder: &callOrder}},
			{Order: 1, Stage: &mockStage{name: "first", stageType: ports.StagePre, callOrder: &callOrder}},
			{Order: 2, Stage: &mockStage{name: "third", stageType: ports.StagePre, callOrder: &callOrder}},
		},
	})

	if _, err := e.Run(context.Background(), &domain.WebhookPayload{}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"first", "second", "third", "post"}
	if len(callOrder) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(callOrder))
	}
	for i := range want {
		if callOrder[i] != want[i] {
			t.Errorf("unexpected order: %v", callOrder)
			break
		}
	}
	if e.Len() != 4 || !e.HasPostStages() {
		t.Errorf("Len() = %d, HasPostStages() = %v", e.Len(), e.HasPostStages())
	}
}

func TestExecutor_Run_CancelledContext(t *testing.T) {
	stage := &mockStage{name: "body", stageType: ports.StagePre}
	e := NewOrderedExecutor(stage)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Run(ctx, &domain.WebhookPayload{}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(stage.calls) != 0 {
		t.Error("stage ran on a cancelled context")
	}
}
