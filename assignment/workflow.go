package assignment

import (
	"context"
	"errors"
	"fmt"

	"civicsync-dispatch/apperrors"
	"civicsync-dispatch/models"
	"civicsync-dispatch/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// transitions lists the legal status moves. Resolved and rejected are terminal.
// A pending issue has no assignee, so Assign is its only way into work.
var transitions = map[models.IssueStatus][]models.IssueStatus{
	models.Pending:    {models.Rejected},
	models.InReview:   {models.InProgress, models.Resolved, models.Rejected},
	models.InProgress: {models.Resolved, models.Rejected},
}

// CanTransition reports whether an issue may move from one status to another.
func CanTransition(from, to models.IssueStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type TransitionRequest struct {
	IssueID primitive.ObjectID
	Status  models.IssueStatus
	ActorID primitive.ObjectID
	Notes   string
}

// Transition moves an issue along its lifecycle and refreshes the workload
// of the officer holding it.
func (e *Engine) Transition(ctx context.Context, req TransitionRequest) (Result, error) {
	if !req.Status.Valid() {
		return Result{}, apperrors.Validation("Invalid status", map[string]string{"status": string(req.Status)})
	}
	issue, err := e.getIssue(ctx, req.IssueID)
	if err != nil {
		return Result{}, err
	}
	if !CanTransition(issue.Status, req.Status) {
		return Result{}, apperrors.Validation(
			fmt.Sprintf("Cannot move issue from %s to %s", issue.Status, req.Status),
			map[string]string{"from": string(issue.Status), "to": string(req.Status)})
	}
	if req.Status.Open() && issue.AssignedTo == nil {
		return Result{}, apperrors.Validation("Issue must be assigned to an officer first",
			map[string]string{"status": string(req.Status)})
	}

	now := e.now()
	notes := req.Notes
	if notes == "" {
		notes = fmt.Sprintf("Status changed to %s", req.Status)
	}
	change := store.IssueChange{
		Status: req.Status,
		History: models.StatusChange{
			Status:    req.Status,
			ChangedBy: req.ActorID,
			ChangedAt: now,
			Notes:     notes,
		},
		UpdatedAt: now,
	}
	switch req.Status {
	case models.Resolved:
		change.ResolvedAt = &now
		change.ResolutionNotes = req.Notes
	case models.Rejected:
		// rejected issues hold no officer; the history keeps who had it
		change.ClearAssignee = true
	}

	updated, err := e.store.UpdateIssue(ctx, issue.ID, issue.Version, change)
	switch {
	case errors.Is(err, store.ErrConflict):
		return Result{}, apperrors.ConcurrencyConflict("issue", issue.ID.Hex())
	case errors.Is(err, store.ErrNotFound):
		return Result{}, apperrors.IssueNotFound(issue.ID.Hex())
	case err != nil:
		return Result{}, fmt.Errorf("update issue %s: %w", issue.ID.Hex(), err)
	}

	res := Result{Issue: updated}
	if issue.AssignedTo != nil {
		officer, err := e.RecomputeWorkload(ctx, *issue.AssignedTo)
		if err != nil {
			res.WorkloadErr = err
		}
		res.Officer = officer
	}

	title := "Status Updated"
	message := fmt.Sprintf("Your issue %q is now %s.", updated.Title, updated.Status)
	switch updated.Status {
	case models.Resolved:
		title = "Issue Resolved"
		message = fmt.Sprintf("Your issue %q has been resolved.", updated.Title)
	case models.Rejected:
		title = "Issue Rejected"
		message = fmt.Sprintf("Your issue %q has been rejected.", updated.Title)
	}
	e.sink.Notify(ctx, updated.SubmittedBy, title, message, map[string]interface{}{
		"issueId": updated.ID.Hex(),
		"from":    string(issue.Status),
		"to":      string(updated.Status),
		"notes":   req.Notes,
	})
	return res, nil
}
