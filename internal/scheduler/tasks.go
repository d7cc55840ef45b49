package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskReconcile = "assignment.reconcile"

const TaskAssignVisitor = "assignment.visitor"

type ReconcilePayload struct {
	RequestedBy string `json:"requestedBy"`
}

type AssignVisitorPayload struct {
	VisitorID string `json:"visitorId"`
}

func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcile, data), nil
}

func ParseReconcilePayload(task *asynq.Task) (ReconcilePayload, error) {
	var payload ReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ReconcilePayload{}, err
	}
	return payload, nil
}

func NewAssignVisitorTask(payload AssignVisitorPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAssignVisitor, data), nil
}

func ParseAssignVisitorPayload(task *asynq.Task) (AssignVisitorPayload, error) {
	var payload AssignVisitorPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AssignVisitorPayload{}, err
	}
	return payload, nil
}
