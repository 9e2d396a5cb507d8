package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"civicsync-dispatch/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps every collection in process. Each method holds the lock for
// its whole read-check-write, so conditional writes are atomic per document.
type MemoryStore struct {
	mu       sync.RWMutex
	issues   map[primitive.ObjectID]*models.Issue
	officers map[primitive.ObjectID]*models.Officer
	users    map[primitive.ObjectID]*models.User
	votes    map[primitive.ObjectID]map[primitive.ObjectID]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		issues:   make(map[primitive.ObjectID]*models.Issue),
		officers: make(map[primitive.ObjectID]*models.Officer),
		users:    make(map[primitive.ObjectID]*models.User),
		votes:    make(map[primitive.ObjectID]map[primitive.ObjectID]time.Time),
	}
}

func copyIssue(in *models.Issue) *models.Issue {
	out := *in
	out.StatusHistory = append([]models.StatusChange(nil), in.StatusHistory...)
	out.Comments = append([]models.Comment(nil), in.Comments...)
	out.Tags = append([]string(nil), in.Tags...)
	if in.AssignedTo != nil {
		id := *in.AssignedTo
		out.AssignedTo = &id
	}
	if in.Coordinates != nil {
		c := *in.Coordinates
		out.Coordinates = &c
	}
	if in.ResolvedAt != nil {
		t := *in.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

func copyOfficer(in *models.Officer) *models.Officer {
	out := *in
	if in.UserID != nil {
		id := *in.UserID
		out.UserID = &id
	}
	return &out
}

func (m *MemoryStore) InsertIssue(_ context.Context, issue *models.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if issue.ID.IsZero() {
		issue.ID = primitive.NewObjectID()
	}
	if _, exists := m.issues[issue.ID]; exists {
		return ErrDuplicate
	}
	m.issues[issue.ID] = copyIssue(issue)
	return nil
}

func (m *MemoryStore) GetIssue(_ context.Context, id primitive.ObjectID) (*models.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	issue, ok := m.issues[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyIssue(issue), nil
}

func containsStatus(list []models.IssueStatus, s models.IssueStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func matchIssue(issue *models.Issue, f IssueFilter) bool {
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, issue.Status) {
		return false
	}
	if containsStatus(f.NotStatuses, issue.Status) {
		return false
	}
	if f.Urgency != "" && issue.Urgency != f.Urgency {
		return false
	}
	if f.Department != "" && issue.Department != f.Department {
		return false
	}
	if f.AssignedTo != nil && (issue.AssignedTo == nil || *issue.AssignedTo != *f.AssignedTo) {
		return false
	}
	if f.SubmittedBy != nil && issue.SubmittedBy != *f.SubmittedBy {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(issue.Title), q) &&
			!strings.Contains(strings.ToLower(issue.Description), q) &&
			!strings.Contains(strings.ToLower(issue.Location), q) {
			return false
		}
	}
	return true
}

func (m *MemoryStore) QueryIssues(_ context.Context, f IssueFilter) ([]models.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Issue, 0)
	for _, issue := range m.issues {
		if matchIssue(issue, f) {
			out = append(out, *copyIssue(issue))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].SubmittedDate, out[j].SubmittedDate
		if a.Equal(b) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		if f.Oldest {
			return a.Before(b)
		}
		return a.After(b)
	})

	if f.Skip > 0 {
		if f.Skip >= int64(len(out)) {
			return []models.Issue{}, nil
		}
		out = out[f.Skip:]
	}
	if f.Limit > 0 && int64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) CountIssues(_ context.Context, f IssueFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, issue := range m.issues {
		if matchIssue(issue, f) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UpdateIssue(_ context.Context, id primitive.ObjectID, expectedVersion int64, change IssueChange) (*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	issue, ok := m.issues[id]
	if !ok {
		return nil, ErrNotFound
	}
	if issue.Version != expectedVersion {
		return nil, ErrConflict
	}

	issue.Status = change.Status
	switch {
	case change.ClearAssignee:
		issue.AssignedTo = nil
	case change.AssignedTo != nil:
		assignee := *change.AssignedTo
		issue.AssignedTo = &assignee
	}
	if change.ResolutionNotes != "" {
		issue.ResolutionNotes = change.ResolutionNotes
	}
	if change.ResolvedAt != nil {
		t := *change.ResolvedAt
		issue.ResolvedAt = &t
	}
	issue.StatusHistory = append(issue.StatusHistory, change.History)
	issue.UpdatedAt = change.UpdatedAt
	issue.Version++
	return copyIssue(issue), nil
}

func (m *MemoryStore) AdvanceEscalation(_ context.Context, id primitive.ObjectID, from, to models.EscalationLevel, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	issue, ok := m.issues[id]
	if !ok {
		return false, ErrNotFound
	}
	if issue.Status.Closed() || issue.EscalationLevel != from {
		return false, nil
	}
	issue.EscalationLevel = to
	issue.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) AddComment(_ context.Context, id primitive.ObjectID, comment models.Comment) (*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	issue, ok := m.issues[id]
	if !ok {
		return nil, ErrNotFound
	}
	issue.Comments = append(issue.Comments, comment)
	issue.UpdatedAt = comment.CreatedAt
	return copyIssue(issue), nil
}

func (m *MemoryStore) IssueStats(_ context.Context) (models.IssueStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats models.IssueStats
	for _, issue := range m.issues {
		stats.Total++
		switch issue.Status {
		case models.Pending:
			stats.Pending++
		case models.InReview:
			stats.InReview++
		case models.InProgress:
			stats.InProgress++
		case models.Resolved:
			stats.Resolved++
		case models.Rejected:
			stats.Rejected++
		}
		switch issue.Urgency {
		case models.UrgencyHigh:
			stats.High++
		case models.UrgencyMedium:
			stats.Medium++
		case models.UrgencyLow:
			stats.Low++
		}
	}
	return stats, nil
}

func (m *MemoryStore) InsertOfficer(_ context.Context, officer *models.Officer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if officer.ID.IsZero() {
		officer.ID = primitive.NewObjectID()
	}
	if _, exists := m.officers[officer.ID]; exists {
		return ErrDuplicate
	}
	for _, o := range m.officers {
		if strings.EqualFold(o.Email, officer.Email) {
			return ErrDuplicate
		}
	}
	m.officers[officer.ID] = copyOfficer(officer)
	return nil
}

func (m *MemoryStore) GetOfficer(_ context.Context, id primitive.ObjectID) (*models.Officer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	officer, ok := m.officers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOfficer(officer), nil
}

func (m *MemoryStore) GetOfficerByUser(_ context.Context, userID primitive.ObjectID) (*models.Officer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, o := range m.officers {
		if o.UserID != nil && *o.UserID == userID {
			return copyOfficer(o), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) QueryOfficers(_ context.Context, f OfficerFilter) ([]models.Officer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Officer, 0)
	for _, o := range m.officers {
		if f.Department != "" && o.Department != f.Department {
			continue
		}
		if f.Availability != "" && o.Availability != f.Availability {
			continue
		}
		out = append(out, *copyOfficer(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

func (m *MemoryStore) UpdateOfficerWorkload(_ context.Context, id primitive.ObjectID, expectedVersion int64, current int, availability models.Availability, at time.Time) (*models.Officer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	officer, ok := m.officers[id]
	if !ok {
		return nil, ErrNotFound
	}
	if officer.Version != expectedVersion {
		return nil, ErrConflict
	}
	officer.CurrentIssues = current
	officer.Availability = availability
	officer.UpdatedAt = at
	officer.Version++
	return copyOfficer(officer), nil
}

func (m *MemoryStore) CountOpenAssignments(_ context.Context, officerID primitive.ObjectID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, issue := range m.issues {
		if issue.AssignedTo != nil && *issue.AssignedTo == officerID && issue.Status.Open() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) InsertUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicate
		}
	}
	u := *user
	m.users[user.ID] = &u
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ToggleVote(_ context.Context, issueID, userID primitive.ObjectID, at time.Time) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.issues[issueID]; !ok {
		return false, 0, ErrNotFound
	}
	voters, ok := m.votes[issueID]
	if !ok {
		voters = make(map[primitive.ObjectID]time.Time)
		m.votes[issueID] = voters
	}
	if _, voted := voters[userID]; voted {
		delete(voters, userID)
		return false, int64(len(voters)), nil
	}
	voters[userID] = at
	return true, int64(len(voters)), nil
}

func (m *MemoryStore) CountVotes(_ context.Context, issueID primitive.ObjectID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.votes[issueID])), nil
}
