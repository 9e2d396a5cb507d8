// Package assignment picks officers for issues and drives the issue workflow.
//
// Officer workload is always recounted from the issues collection; the
// counter stored on the officer is a cache refreshed after every event.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"civicsync-dispatch/apperrors"
	"civicsync-dispatch/classifier"
	"civicsync-dispatch/models"
	"civicsync-dispatch/notify"
	"civicsync-dispatch/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// recomputeAttempts bounds the retries of an idempotent workload refresh.
const recomputeAttempts = 3

// Store is the part of the record store the engine needs.
type Store interface {
	store.IssueStore
	store.OfficerStore
}

type Engine struct {
	store Store
	sink  notify.Sink
	now   func() time.Time

	// officer id -> *sync.Mutex; held from reservation until the recount
	// that follows the issue write.
	locks sync.Map
}

func (e *Engine) lockOfficer(id primitive.ObjectID) func() {
	m, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func New(s Store, sink notify.Sink, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: s, sink: sink, now: now}
}

// Request asks for an issue to be assigned. With OfficerID nil the best
// available officer of the department is chosen.
type Request struct {
	IssueID            primitive.ObjectID
	OfficerID          *primitive.ObjectID
	DepartmentOverride models.Department
	// Review routes the issue through in-review instead of straight to in-progress.
	Review  bool
	ActorID primitive.ObjectID
}

type Result struct {
	Issue    *models.Issue
	Officer  *models.Officer
	Previous *primitive.ObjectID
	// WorkloadErr is set when the assignment was stored but a workload
	// refresh afterwards failed. The next event repairs it.
	WorkloadErr error
}

func (e *Engine) getIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	issue, err := e.store.GetIssue(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.IssueNotFound(id.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", id.Hex(), err)
	}
	return issue, nil
}

func (e *Engine) getOfficer(ctx context.Context, id primitive.ObjectID) (*models.Officer, error) {
	officer, err := e.store.GetOfficer(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.OfficerNotFound(id.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("get officer %s: %w", id.Hex(), err)
	}
	return officer, nil
}

// Rank orders officers best first: rating, then lighter workload, then id.
func Rank(officers []models.Officer) {
	sort.SliceStable(officers, func(i, j int) bool {
		a, b := officers[i], officers[j]
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if a.CurrentIssues != b.CurrentIssues {
			return a.CurrentIssues < b.CurrentIssues
		}
		return a.ID.Hex() < b.ID.Hex()
	})
}

// Candidates returns the ranked pool of officers that can take one more issue in dept.
func (e *Engine) Candidates(ctx context.Context, dept models.Department) ([]models.Officer, error) {
	officers, err := e.store.QueryOfficers(ctx, store.OfficerFilter{Department: dept, Availability: models.Available})
	if err != nil {
		return nil, fmt.Errorf("query officers: %w", err)
	}
	pool := officers[:0]
	for _, o := range officers {
		if o.Department == dept && o.HasCapacity() {
			pool = append(pool, o)
		}
	}
	Rank(pool)
	return pool, nil
}

func (e *Engine) targetDepartment(issue *models.Issue, override models.Department) (models.Department, error) {
	if override == "" {
		return issue.Department, nil
	}
	if !classifier.Known(override) {
		return "", apperrors.Validation("Unknown department", map[string]string{"department": string(override)})
	}
	return override, nil
}

var errStale = errors.New("officer at capacity")

// reserve recounts the officer's open issues and, if there is room, stores
// one more than the larger of the live and cached counts, conditionally on
// the officer version read with the candidate.
func (e *Engine) reserve(ctx context.Context, officer *models.Officer) (*models.Officer, error) {
	count, err := e.store.CountOpenAssignments(ctx, officer.ID)
	if err != nil {
		return nil, fmt.Errorf("count assignments for %s: %w", officer.ID.Hex(), err)
	}
	if officer.CurrentIssues > count {
		count = officer.CurrentIssues
	}
	if count >= officer.MaxIssues {
		return nil, errStale
	}
	next := count + 1
	reserved, err := e.store.UpdateOfficerWorkload(ctx, officer.ID, officer.Version, next,
		models.AvailabilityFor(next, officer.MaxIssues), e.now())
	switch {
	case errors.Is(err, store.ErrConflict):
		return nil, apperrors.ConcurrencyConflict("officer", officer.ID.Hex())
	case errors.Is(err, store.ErrNotFound):
		return nil, apperrors.OfficerNotFound(officer.ID.Hex())
	case err != nil:
		return nil, fmt.Errorf("reserve officer %s: %w", officer.ID.Hex(), err)
	}
	return reserved, nil
}

func (e *Engine) explicitCandidate(ctx context.Context, issue *models.Issue, id primitive.ObjectID, dept models.Department) (*models.Officer, error) {
	officer, err := e.getOfficer(ctx, id)
	if err != nil {
		return nil, err
	}
	if officer.Department != dept {
		return nil, apperrors.Validation(
			fmt.Sprintf("Officer %s works in %s, not %s", officer.Name, officer.Department, dept),
			map[string]string{"officerId": id.Hex(), "department": string(dept)})
	}
	if issue.AssignedTo != nil && *issue.AssignedTo == officer.ID {
		return nil, apperrors.Validation("Issue is already assigned to this officer",
			map[string]string{"officerId": id.Hex()})
	}
	if !officer.HasCapacity() {
		return nil, apperrors.NoAvailableOfficer(string(dept))
	}
	return officer, nil
}

// Assign links an issue to an officer. On any error the issue is unchanged.
func (e *Engine) Assign(ctx context.Context, req Request) (Result, error) {
	issue, err := e.getIssue(ctx, req.IssueID)
	if err != nil {
		return Result{}, err
	}
	if issue.Status.Closed() {
		return Result{}, apperrors.Validation(
			fmt.Sprintf("Cannot assign an issue that is %s", issue.Status),
			map[string]string{"status": string(issue.Status)})
	}
	dept, err := e.targetDepartment(issue, req.DepartmentOverride)
	if err != nil {
		return Result{}, err
	}

	var pool []models.Officer
	if req.OfficerID != nil {
		officer, err := e.explicitCandidate(ctx, issue, *req.OfficerID, dept)
		if err != nil {
			return Result{}, err
		}
		pool = []models.Officer{*officer}
	} else {
		pool, err = e.Candidates(ctx, dept)
		if err != nil {
			return Result{}, err
		}
	}

	var (
		officer *models.Officer
		unlock  func()
	)
	for i := range pool {
		if issue.AssignedTo != nil && pool[i].ID == *issue.AssignedTo {
			continue
		}
		unlock = e.lockOfficer(pool[i].ID)
		reserved, err := e.reserve(ctx, &pool[i])
		if errors.Is(err, errStale) {
			unlock()
			continue
		}
		if err != nil {
			unlock()
			return Result{}, err
		}
		officer = reserved
		break
	}
	if officer == nil {
		return Result{}, apperrors.NoAvailableOfficer(string(dept))
	}

	previous := issue.AssignedTo
	note := fmt.Sprintf("Assigned to %s", officer.Name)
	if previous != nil {
		note = fmt.Sprintf("Reassigned from %s to %s", e.officerName(ctx, *previous), officer.Name)
	}
	status := models.InProgress
	if req.Review {
		status = models.InReview
	}

	now := e.now()
	updated, err := e.store.UpdateIssue(ctx, issue.ID, issue.Version, store.IssueChange{
		Status:     status,
		AssignedTo: &officer.ID,
		History: models.StatusChange{
			Status:    status,
			ChangedBy: req.ActorID,
			ChangedAt: now,
			Notes:     note,
		},
		UpdatedAt: now,
	})
	if err != nil {
		// drop the reservation; the recount does not see this issue
		_, _ = e.recompute(ctx, officer.ID)
		unlock()
		if errors.Is(err, store.ErrConflict) {
			return Result{}, apperrors.ConcurrencyConflict("issue", issue.ID.Hex())
		}
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, apperrors.IssueNotFound(issue.ID.Hex())
		}
		return Result{}, fmt.Errorf("update issue %s: %w", issue.ID.Hex(), err)
	}

	res := Result{Issue: updated, Officer: officer, Previous: previous}
	if fresh, err := e.recompute(ctx, officer.ID); err != nil {
		res.WorkloadErr = err
	} else {
		res.Officer = fresh
	}
	unlock()
	if previous != nil {
		if _, err := e.RecomputeWorkload(ctx, *previous); err != nil && !errors.Is(err, apperrors.ErrOfficerNotFound) {
			res.WorkloadErr = errors.Join(res.WorkloadErr, err)
		}
	}

	e.sink.Notify(ctx, updated.SubmittedBy, "Officer Assigned",
		fmt.Sprintf("Your issue %q has been assigned to %s (%s).", updated.Title, officer.Name, officer.Department),
		map[string]interface{}{
			"issueId":        updated.ID.Hex(),
			"officerId":      officer.ID.Hex(),
			"officerName":    officer.Name,
			"department":     string(officer.Department),
			"specialization": officer.Specialization,
			"rating":         officer.Rating,
			"experience":     officer.Experience,
		})
	return res, nil
}

func (e *Engine) officerName(ctx context.Context, id primitive.ObjectID) string {
	officer, err := e.store.GetOfficer(ctx, id)
	if err != nil {
		return id.Hex()
	}
	return officer.Name
}

// RecomputeWorkload refreshes the officer's cached workload from a live count.
// The refresh is idempotent, so a version clash is retried with a fresh read.
func (e *Engine) RecomputeWorkload(ctx context.Context, officerID primitive.ObjectID) (*models.Officer, error) {
	unlock := e.lockOfficer(officerID)
	defer unlock()
	return e.recompute(ctx, officerID)
}

func (e *Engine) recompute(ctx context.Context, officerID primitive.ObjectID) (*models.Officer, error) {
	for attempt := 0; attempt < recomputeAttempts; attempt++ {
		officer, err := e.getOfficer(ctx, officerID)
		if err != nil {
			return nil, err
		}
		count, err := e.store.CountOpenAssignments(ctx, officerID)
		if err != nil {
			return nil, fmt.Errorf("count assignments for %s: %w", officerID.Hex(), err)
		}
		availability := models.AvailabilityFor(count, officer.MaxIssues)
		if officer.CurrentIssues == count && officer.Availability == availability {
			return officer, nil
		}

		updated, err := e.store.UpdateOfficerWorkload(ctx, officerID, officer.Version, count, availability, e.now())
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.OfficerNotFound(officerID.Hex())
		}
		if err != nil {
			return nil, fmt.Errorf("update workload for %s: %w", officerID.Hex(), err)
		}
		return updated, nil
	}
	return nil, apperrors.ConcurrencyConflict("officer", officerID.Hex())
}
