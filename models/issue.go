package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Urgency enum
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// IssueStatus enum
type IssueStatus string

const (
	Pending    IssueStatus = "pending"
	InReview   IssueStatus = "in-review"
	InProgress IssueStatus = "in-progress"
	Resolved   IssueStatus = "resolved"
	Rejected   IssueStatus = "rejected"
)

func (s IssueStatus) Valid() bool {
	switch s {
	case Pending, InReview, InProgress, Resolved, Rejected:
		return true
	}
	return false
}

// Closed reports whether the issue has left the working lifecycle.
func (s IssueStatus) Closed() bool {
	return s == Resolved || s == Rejected
}

// Open reports whether an issue in this status counts toward an officer's workload.
func (s IssueStatus) Open() bool {
	return s == InReview || s == InProgress
}

// EscalationLevel enum, ordered Block < District < State < Court
type EscalationLevel string

const (
	LevelBlock    EscalationLevel = "Block"
	LevelDistrict EscalationLevel = "District"
	LevelState    EscalationLevel = "State"
	LevelCourt    EscalationLevel = "Court"
)

// Rank returns the position of the level in the escalation ladder, -1 if unknown.
func (l EscalationLevel) Rank() int {
	switch l {
	case LevelBlock:
		return 0
	case LevelDistrict:
		return 1
	case LevelState:
		return 2
	case LevelCourt:
		return 3
	}
	return -1
}

// CoordinateAccuracy labels how a location fix was obtained.
type CoordinateAccuracy string

const (
	AccuracyGPS        CoordinateAccuracy = "GPS"
	AccuracyBrowserGPS CoordinateAccuracy = "Browser GPS"
	AccuracyManual     CoordinateAccuracy = "Manual"
	AccuracyEstimated  CoordinateAccuracy = "Estimated"
)

type Coordinates struct {
	Latitude  float64            `bson:"latitude" json:"latitude"`
	Longitude float64            `bson:"longitude" json:"longitude"`
	Accuracy  CoordinateAccuracy `bson:"accuracy,omitempty" json:"accuracy,omitempty"`
}

// Valid reports whether the point lies on the globe and carries a known accuracy label.
func (c *Coordinates) Valid() bool {
	if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return false
	}
	switch c.Accuracy {
	case "", AccuracyGPS, AccuracyBrowserGPS, AccuracyManual, AccuracyEstimated:
		return true
	}
	return false
}

// StatusChange is one append-only entry of an issue's status history.
type StatusChange struct {
	Status    IssueStatus        `bson:"status" json:"status"`
	ChangedBy primitive.ObjectID `bson:"changedBy" json:"changedBy"`
	ChangedAt time.Time          `bson:"changedAt" json:"changedAt"`
	Notes     string             `bson:"notes,omitempty" json:"notes,omitempty"`
}

type Comment struct {
	User      primitive.ObjectID `bson:"user" json:"user"`
	Comment   string             `bson:"comment" json:"comment"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// Issue represents a civic issue reported by a citizen
type Issue struct {
	ID              primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Title           string              `bson:"title" json:"title"`
	Description     string              `bson:"description" json:"description"`
	Location        string              `bson:"location" json:"location"`
	Coordinates     *Coordinates        `bson:"coordinates,omitempty" json:"coordinates,omitempty"`
	Urgency         Urgency             `bson:"urgency" json:"urgency"`
	Department      Department          `bson:"department" json:"department"`
	Status          IssueStatus         `bson:"status" json:"status"`
	EscalationLevel EscalationLevel     `bson:"escalationLevel" json:"escalationLevel"`
	SubmittedBy     primitive.ObjectID  `bson:"submittedBy" json:"submittedBy"`
	AssignedTo      *primitive.ObjectID `bson:"assignedTo,omitempty" json:"assignedTo,omitempty"`
	StatusHistory   []StatusChange      `bson:"statusHistory" json:"statusHistory"`
	Comments        []Comment           `bson:"comments,omitempty" json:"comments,omitempty"`
	Tags            []string            `bson:"tags,omitempty" json:"tags,omitempty"`
	ResolutionNotes string              `bson:"resolutionNotes,omitempty" json:"resolutionNotes,omitempty"`
	ResolvedAt      *time.Time          `bson:"resolvedAt,omitempty" json:"resolvedAt,omitempty"`
	SubmittedDate   time.Time           `bson:"submittedDate" json:"submittedDate"`
	UpdatedAt       time.Time           `bson:"updatedAt" json:"updatedAt"`
	Version         int64               `bson:"version" json:"version"`
}

// NewIssue builds a pending Block-level issue whose history starts with its creation.
func NewIssue(title, description, location string, urgency Urgency, department Department, submittedBy primitive.ObjectID, now time.Time) *Issue {
	return &Issue{
		ID:              primitive.NewObjectID(),
		Title:           title,
		Description:     description,
		Location:        location,
		Urgency:         urgency,
		Department:      department,
		Status:          Pending,
		EscalationLevel: LevelBlock,
		SubmittedBy:     submittedBy,
		StatusHistory: []StatusChange{{
			Status:    Pending,
			ChangedBy: submittedBy,
			ChangedAt: now,
			Notes:     "Issue created",
		}},
		SubmittedDate: now,
		UpdatedAt:     now,
	}
}

// IssueStats mirrors the overview counters shown on the admin dashboard.
type IssueStats struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	InReview   int64 `json:"inReview"`
	InProgress int64 `json:"inProgress"`
	Resolved   int64 `json:"resolved"`
	Rejected   int64 `json:"rejected"`
	High       int64 `json:"high"`
	Medium     int64 `json:"medium"`
	Low        int64 `json:"low"`
}
