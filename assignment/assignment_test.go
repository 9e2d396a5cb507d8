package assignment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"civicsync-dispatch/apperrors"
	"civicsync-dispatch/models"
	"civicsync-dispatch/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type sent struct {
	recipient primitive.ObjectID
	title     string
	metadata  map[string]interface{}
}

type recordingSink struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recordingSink) Notify(_ context.Context, recipient primitive.ObjectID, title, _ string, metadata map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{recipient: recipient, title: title, metadata: metadata})
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

var clock = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*store.MemoryStore, *recordingSink, *Engine) {
	t.Helper()
	s := store.NewMemoryStore()
	sink := &recordingSink{}
	return s, sink, New(s, sink, func() time.Time { return clock })
}

func addOfficer(t *testing.T, s *store.MemoryStore, name string, dept models.Department, rating float64, maxIssues, open int) *models.Officer {
	t.Helper()
	ctx := context.Background()
	o := &models.Officer{
		Name:          name,
		Email:         name + "@city.gov",
		Department:    dept,
		Rating:        rating,
		MaxIssues:     maxIssues,
		CurrentIssues: open,
		Availability:  models.AvailabilityFor(open, maxIssues),
		Experience:    "5 years",
	}
	require.NoError(t, s.InsertOfficer(ctx, o))
	for i := 0; i < open; i++ {
		issue := models.NewIssue("existing", "", "", models.UrgencyLow, dept, primitive.NewObjectID(), clock)
		issue.Status = models.InProgress
		issue.AssignedTo = &o.ID
		require.NoError(t, s.InsertIssue(ctx, issue))
	}
	return o
}

func addIssue(t *testing.T, s *store.MemoryStore, dept models.Department) *models.Issue {
	t.Helper()
	issue := models.NewIssue("Garbage pile", "Trash everywhere", "Park Road", models.UrgencyMedium,
		dept, primitive.NewObjectID(), clock)
	require.NoError(t, s.InsertIssue(context.Background(), issue))
	return issue
}

func TestAssign_PrefersRatingOverSpareCapacity(t *testing.T) {
	s, sink, engine := setup(t)
	a := addOfficer(t, s, "alice", models.EnvironmentalService, 4.9, 5, 4)
	addOfficer(t, s, "bob", models.EnvironmentalService, 4.6, 4, 1)
	issue := addIssue(t, s, models.EnvironmentalService)

	res, err := engine.Assign(context.Background(), Request{IssueID: issue.ID})
	require.NoError(t, err)
	assert.Equal(t, a.ID, res.Officer.ID)
	assert.Equal(t, models.InProgress, res.Issue.Status)
	require.NotNil(t, res.Issue.AssignedTo)
	assert.Equal(t, a.ID, *res.Issue.AssignedTo)

	// alice is now full
	assert.Equal(t, 5, res.Officer.CurrentIssues)
	assert.Equal(t, models.Busy, res.Officer.Availability)

	require.Equal(t, 1, sink.count())
	assert.Equal(t, issue.SubmittedBy, sink.sent[0].recipient)
	assert.Equal(t, "Officer Assigned", sink.sent[0].title)
	assert.Equal(t, "alice", sink.sent[0].metadata["officerName"])
	assert.Equal(t, 4.9, sink.sent[0].metadata["rating"])
	assert.Equal(t, "5 years", sink.sent[0].metadata["experience"])
}

func TestAssign_NoAvailableOfficerLeavesIssueUnchanged(t *testing.T) {
	s, sink, engine := setup(t)
	addOfficer(t, s, "wendy", models.WaterDepartment, 5, 3, 0)
	addOfficer(t, s, "full", models.PublicWorks, 5, 1, 1)
	issue := addIssue(t, s, models.PublicWorks)

	_, err := engine.Assign(context.Background(), Request{IssueID: issue.ID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNoAvailableOfficer))

	got, err := s.GetIssue(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Pending, got.Status)
	assert.Nil(t, got.AssignedTo)
	assert.Len(t, got.StatusHistory, 1)
	assert.Zero(t, sink.count())
}

func TestAssign_TieIsDeterministic(t *testing.T) {
	for i := 0; i < 20; i++ {
		s, _, engine := setup(t)
		first := addOfficer(t, s, "first", models.RoadConstruction, 4.5, 5, 2)
		second := addOfficer(t, s, "second", models.RoadConstruction, 4.5, 5, 2)
		want := first.ID
		if second.ID.Hex() < first.ID.Hex() {
			want = second.ID
		}

		issue := addIssue(t, s, models.RoadConstruction)
		res, err := engine.Assign(context.Background(), Request{IssueID: issue.ID})
		require.NoError(t, err)
		assert.Equal(t, want, res.Officer.ID)
	}
}

func TestAssign_LighterWorkloadBreaksRatingTie(t *testing.T) {
	s, _, engine := setup(t)
	addOfficer(t, s, "busy", models.RoadConstruction, 4.5, 5, 3)
	light := addOfficer(t, s, "light", models.RoadConstruction, 4.5, 5, 1)
	issue := addIssue(t, s, models.RoadConstruction)

	res, err := engine.Assign(context.Background(), Request{IssueID: issue.ID})
	require.NoError(t, err)
	assert.Equal(t, light.ID, res.Officer.ID)
}

func TestAssign_CapacityInvariant(t *testing.T) {
	s, _, engine := setup(t)
	o := addOfficer(t, s, "solo", models.PublicWorks, 4, 2, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := engine.Assign(ctx, Request{IssueID: addIssue(t, s, models.PublicWorks).ID})
		require.NoError(t, err)
	}
	_, err := engine.Assign(ctx, Request{IssueID: addIssue(t, s, models.PublicWorks).ID})
	assert.ErrorIs(t, err, apperrors.ErrNoAvailableOfficer)

	got, err := s.GetOfficer(ctx, o.ID)
	require.NoError(t, err)
	live, err := s.CountOpenAssignments(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentIssues)
	assert.Equal(t, live, got.CurrentIssues)
	assert.Equal(t, models.Busy, got.Availability)
}

func TestAssign_ConcurrentCallsNeverExceedCapacity(t *testing.T) {
	s, _, engine := setup(t)
	o := addOfficer(t, s, "solo", models.PublicWorks, 4, 3, 0)
	ctx := context.Background()

	issues := make([]*models.Issue, 12)
	for i := range issues {
		issues[i] = addIssue(t, s, models.PublicWorks)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for _, issue := range issues {
		wg.Add(1)
		go func(id primitive.ObjectID) {
			defer wg.Done()
			_, err := engine.Assign(ctx, Request{IssueID: id})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, apperrors.ErrNoAvailableOfficer) || errors.Is(err, apperrors.ErrConcurrencyConflict), err)
		}(issue.ID)
	}
	wg.Wait()

	live, err := s.CountOpenAssignments(ctx, o.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, live, 3)
	assert.Equal(t, successes, live)

	got, err := engine.RecomputeWorkload(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, live, got.CurrentIssues)
}

func TestAssign_SkipsCandidateWithStaleWorkload(t *testing.T) {
	s, _, engine := setup(t)
	ctx := context.Background()
	stale := addOfficer(t, s, "stale", models.WaterDepartment, 5, 1, 1)
	// cached counter drifted below the live count
	_, err := s.UpdateOfficerWorkload(ctx, stale.ID, 0, 0, models.Available, clock)
	require.NoError(t, err)
	fallback := addOfficer(t, s, "fallback", models.WaterDepartment, 3, 2, 0)
	issue := addIssue(t, s, models.WaterDepartment)

	res, err := engine.Assign(ctx, Request{IssueID: issue.ID})
	require.NoError(t, err)
	assert.Equal(t, fallback.ID, res.Officer.ID)
}

func TestAssign_ExplicitOfficer(t *testing.T) {
	s, _, engine := setup(t)
	ctx := context.Background()
	addOfficer(t, s, "top", models.WaterDepartment, 5, 5, 0)
	picked := addOfficer(t, s, "picked", models.WaterDepartment, 2, 5, 0)
	other := addOfficer(t, s, "other", models.PublicWorks, 5, 5, 0)
	full := addOfficer(t, s, "full", models.WaterDepartment, 5, 1, 1)
	issue := addIssue(t, s, models.WaterDepartment)

	res, err := engine.Assign(ctx, Request{IssueID: issue.ID, OfficerID: &picked.ID})
	require.NoError(t, err)
	assert.Equal(t, picked.ID, res.Officer.ID)

	second := addIssue(t, s, models.WaterDepartment)
	_, err = engine.Assign(ctx, Request{IssueID: second.ID, OfficerID: &other.ID})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = engine.Assign(ctx, Request{IssueID: second.ID, OfficerID: &full.ID})
	assert.ErrorIs(t, err, apperrors.ErrNoAvailableOfficer)

	missing := primitive.NewObjectID()
	_, err = engine.Assign(ctx, Request{IssueID: second.ID, OfficerID: &missing})
	assert.ErrorIs(t, err, apperrors.ErrOfficerNotFound)
}

func TestAssign_DepartmentOverride(t *testing.T) {
	s, _, engine := setup(t)
	ctx := context.Background()
	pw := addOfficer(t, s, "builder", models.PublicWorks, 4, 5, 0)
	issue := addIssue(t, s, models.EnvironmentalService)

	res, err := engine.Assign(ctx, Request{IssueID: issue.ID, DepartmentOverride: models.PublicWorks})
	require.NoError(t, err)
	assert.Equal(t, pw.ID, res.Officer.ID)

	_, err = engine.Assign(ctx, Request{IssueID: addIssue(t, s, models.PublicWorks).ID, DepartmentOverride: "Ministry of Silly Walks"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAssign_ReviewAndMissingIssue(t *testing.T) {
	s, _, engine := setup(t)
	addOfficer(t, s, "rev", models.RoadConstruction, 4, 5, 0)
	issue := addIssue(t, s, models.RoadConstruction)

	res, err := engine.Assign(context.Background(), Request{IssueID: issue.ID, Review: true})
	require.NoError(t, err)
	assert.Equal(t, models.InReview, res.Issue.Status)

	_, err = engine.Assign(context.Background(), Request{IssueID: primitive.NewObjectID()})
	assert.ErrorIs(t, err, apperrors.ErrIssueNotFound)
}

func TestAssign_ReassignmentRecomputesBothOfficers(t *testing.T) {
	s, _, engine := setup(t)
	ctx := context.Background()
	first := addOfficer(t, s, "first", models.RoadConstruction, 5, 3, 0)
	second := addOfficer(t, s, "second", models.RoadConstruction, 4, 3, 0)
	issue := addIssue(t, s, models.RoadConstruction)

	res, err := engine.Assign(ctx, Request{IssueID: issue.ID})
	require.NoError(t, err)
	require.Equal(t, first.ID, res.Officer.ID)

	res, err = engine.Assign(ctx, Request{IssueID: issue.ID})
	require.NoError(t, err)
	assert.Equal(t, second.ID, res.Officer.ID, "current assignee is not a candidate")
	require.NotNil(t, res.Previous)
	assert.Equal(t, first.ID, *res.Previous)

	h := res.Issue.StatusHistory
	require.Len(t, h, 3)
	assert.Equal(t, "Assigned to first", h[1].Notes)
	assert.Equal(t, "Reassigned from first to second", h[2].Notes)

	f, err := s.GetOfficer(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.CurrentIssues)
	sec, err := s.GetOfficer(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sec.CurrentIssues)
}

func TestAssign_ClosedIssueRejected(t *testing.T) {
	s, _, engine := setup(t)
	addOfficer(t, s, "o", models.RoadConstruction, 4, 5, 0)
	issue := addIssue(t, s, models.RoadConstruction)
	_, err := engine.Transition(context.Background(), TransitionRequest{IssueID: issue.ID, Status: models.Rejected})
	require.NoError(t, err)

	_, err = engine.Assign(context.Background(), Request{IssueID: issue.ID})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

// conflictStore fails selected conditional writes as if another writer got there first.
type conflictStore struct {
	*store.MemoryStore
	issueConflict   bool
	officerConflict bool
}

func (c *conflictStore) UpdateIssue(ctx context.Context, id primitive.ObjectID, v int64, change store.IssueChange) (*models.Issue, error) {
	if c.issueConflict {
		return nil, store.ErrConflict
	}
	return c.MemoryStore.UpdateIssue(ctx, id, v, change)
}

func (c *conflictStore) UpdateOfficerWorkload(ctx context.Context, id primitive.ObjectID, v int64, current int, a models.Availability, at time.Time) (*models.Officer, error) {
	if c.officerConflict {
		c.officerConflict = false
		return nil, store.ErrConflict
	}
	return c.MemoryStore.UpdateOfficerWorkload(ctx, id, v, current, a, at)
}

func TestAssign_IssueConflictReleasesReservation(t *testing.T) {
	mem := store.NewMemoryStore()
	cs := &conflictStore{MemoryStore: mem, issueConflict: true}
	sink := &recordingSink{}
	engine := New(cs, sink, func() time.Time { return clock })
	o := addOfficer(t, mem, "o", models.RoadConstruction, 4, 2, 1)
	issue := addIssue(t, mem, models.RoadConstruction)

	_, err := engine.Assign(context.Background(), Request{IssueID: issue.ID})
	assert.ErrorIs(t, err, apperrors.ErrConcurrencyConflict)
	assert.Equal(t, 409, apperrors.HTTPStatus(err))

	got, err := mem.GetOfficer(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentIssues)
	assert.Equal(t, models.Available, got.Availability)
	assert.Zero(t, sink.count())
}

func TestAssign_OfficerConflictLeavesIssueUntouched(t *testing.T) {
	mem := store.NewMemoryStore()
	cs := &conflictStore{MemoryStore: mem, officerConflict: true}
	engine := New(cs, &recordingSink{}, func() time.Time { return clock })
	addOfficer(t, mem, "o", models.RoadConstruction, 4, 2, 0)
	issue := addIssue(t, mem, models.RoadConstruction)

	_, err := engine.Assign(context.Background(), Request{IssueID: issue.ID})
	assert.ErrorIs(t, err, apperrors.ErrConcurrencyConflict)

	got, err := mem.GetIssue(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Pending, got.Status)
	assert.Nil(t, got.AssignedTo)
	assert.Equal(t, int64(0), got.Version)
}
