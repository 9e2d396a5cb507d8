// Package store is the record store behind issues, officers, users and votes.
package store

import (
	"context"
	"errors"
	"time"

	"civicsync-dispatch/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a conditional write finds a different version.
	ErrConflict = errors.New("store: version conflict")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("store: duplicate key")
)

// IssueFilter narrows an issue query. Zero values match everything.
type IssueFilter struct {
	Statuses    []models.IssueStatus
	NotStatuses []models.IssueStatus
	Urgency     models.Urgency
	Department  models.Department
	AssignedTo  *primitive.ObjectID
	SubmittedBy *primitive.ObjectID
	Search      string
	Oldest      bool
	Skip        int64
	Limit       int64
}

// IssueChange is one conditional write to an issue's workflow fields.
// History is appended exactly once, whatever else changes.
type IssueChange struct {
	Status          models.IssueStatus
	AssignedTo      *primitive.ObjectID
	// ClearAssignee unlinks the officer; AssignedTo is ignored when set.
	ClearAssignee   bool
	ResolutionNotes string
	ResolvedAt      *time.Time
	History         models.StatusChange
	UpdatedAt       time.Time
}

// OfficerFilter narrows an officer query.
type OfficerFilter struct {
	Department   models.Department
	Availability models.Availability
}

// IssueStore holds issues.
type IssueStore interface {
	InsertIssue(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error)
	QueryIssues(ctx context.Context, filter IssueFilter) ([]models.Issue, error)
	CountIssues(ctx context.Context, filter IssueFilter) (int64, error)
	// UpdateIssue applies change only if the stored version equals expectedVersion.
	UpdateIssue(ctx context.Context, id primitive.ObjectID, expectedVersion int64, change IssueChange) (*models.Issue, error)
	// AdvanceEscalation moves escalationLevel from -> to on an open issue.
	// It reports false when the issue was closed or already moved.
	AdvanceEscalation(ctx context.Context, id primitive.ObjectID, from, to models.EscalationLevel, at time.Time) (bool, error)
	AddComment(ctx context.Context, id primitive.ObjectID, comment models.Comment) (*models.Issue, error)
	IssueStats(ctx context.Context) (models.IssueStats, error)
}

// OfficerStore holds officers and answers the live workload count.
type OfficerStore interface {
	InsertOfficer(ctx context.Context, officer *models.Officer) error
	GetOfficer(ctx context.Context, id primitive.ObjectID) (*models.Officer, error)
	GetOfficerByUser(ctx context.Context, userID primitive.ObjectID) (*models.Officer, error)
	QueryOfficers(ctx context.Context, filter OfficerFilter) ([]models.Officer, error)
	// UpdateOfficerWorkload writes the derived workload only if the version is unchanged.
	UpdateOfficerWorkload(ctx context.Context, id primitive.ObjectID, expectedVersion int64, current int, availability models.Availability, at time.Time) (*models.Officer, error)
	// CountOpenAssignments counts issues assigned to the officer in review or in progress.
	CountOpenAssignments(ctx context.Context, officerID primitive.ObjectID) (int, error)
}

type UserStore interface {
	InsertUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type VoteStore interface {
	// ToggleVote adds the user's vote or removes it if present.
	ToggleVote(ctx context.Context, issueID, userID primitive.ObjectID, at time.Time) (voted bool, count int64, err error)
	CountVotes(ctx context.Context, issueID primitive.ObjectID) (int64, error)
}

// Store is everything the API needs.
type Store interface {
	IssueStore
	OfficerStore
	UserStore
	VoteStore
}
