package scheduler

import (
	"context"
	"errors"
)

// ErrNotEmbedded is returned by lifecycle calls when the reconciler runs in
// a separate process.
var ErrNotEmbedded = errors.New("reconciler runs in the scheduler process")

// Trigger modes reported by Control.Trigger.
const (
	ModeInline   = "inline"
	ModeEnqueued = "enqueued"
)

// TriggerResult reports how a run-now request was handled.
type TriggerResult struct {
	Mode   string      `json:"mode"`
	TaskID string      `json:"taskId,omitempty"`
	Report *PassReport `json:"report,omitempty"`
}

// Control is the operator surface over the reconciler.
type Control interface {
	Stats() (Stats, error)
	Trigger(ctx context.Context, requestedBy string) (TriggerResult, error)
	Start() error
	Stop() error
}

// LocalControl drives a reconciler living in this process. Start uses the
// base context so the loop outlives the HTTP request that started it.
type LocalControl struct {
	base       context.Context
	reconciler *Reconciler
}

func NewLocalControl(base context.Context, reconciler *Reconciler) *LocalControl {
	return &LocalControl{base: base, reconciler: reconciler}
}

func (c *LocalControl) Stats() (Stats, error) {
	return c.reconciler.Stats(), nil
}

func (c *LocalControl) Trigger(ctx context.Context, _ string) (TriggerResult, error) {
	report, err := c.reconciler.RunOnce(ctx)
	if err != nil {
		return TriggerResult{Mode: ModeInline}, err
	}
	return TriggerResult{Mode: ModeInline, Report: &report}, nil
}

func (c *LocalControl) Start() error {
	return c.reconciler.Start(c.base)
}

func (c *LocalControl) Stop() error {
	c.reconciler.Stop()
	return nil
}

// RemoteControl forwards run-now requests to the scheduler process through
// the task queue. Lifecycle and stats live in that process.
type RemoteControl struct {
	enqueuer Enqueuer
}

func NewRemoteControl(enqueuer Enqueuer) *RemoteControl {
	return &RemoteControl{enqueuer: enqueuer}
}

func (c *RemoteControl) Stats() (Stats, error) {
	return Stats{}, ErrNotEmbedded
}

func (c *RemoteControl) Trigger(ctx context.Context, requestedBy string) (TriggerResult, error) {
	id, err := c.enqueuer.EnqueueReconcile(ctx, requestedBy)
	if err != nil {
		return TriggerResult{Mode: ModeEnqueued}, err
	}
	return TriggerResult{Mode: ModeEnqueued, TaskID: id}, nil
}

func (c *RemoteControl) Start() error { return ErrNotEmbedded }

func (c *RemoteControl) Stop() error { return ErrNotEmbedded }

var (
	_ Control = (*LocalControl)(nil)
	_ Control = (*RemoteControl)(nil)
)
