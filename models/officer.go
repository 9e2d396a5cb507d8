package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Department names a service category from the routing catalog.
type Department string

const (
	WaterDepartment      Department = "Water Department"
	ElectricityDept      Department = "Electricity Department"
	RoadConstruction     Department = "Road Construction Department"
	EnvironmentalService Department = "Environmental Services"
	PublicWorks          Department = "Public Works"
	GeneralServices      Department = "General Services"
)

// Availability is a cached projection of CurrentIssues against MaxIssues.
type Availability string

const (
	Available Availability = "available"
	Busy      Availability = "busy"
)

// AvailabilityFor derives availability from a workload count.
func AvailabilityFor(current, max int) Availability {
	if current < max {
		return Available
	}
	return Busy
}

// Officer is a caseworker who resolves issues in one home department
type Officer struct {
	ID             primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID         *primitive.ObjectID `bson:"userId,omitempty" json:"userId,omitempty"`
	Name           string              `bson:"name" json:"name"`
	Email          string              `bson:"email" json:"email"`
	Department     Department          `bson:"department" json:"department"`
	Specialization string              `bson:"specialization,omitempty" json:"specialization,omitempty"`
	Experience     string              `bson:"experience,omitempty" json:"experience,omitempty"`
	Rating         float64             `bson:"rating" json:"rating"`
	MaxIssues      int                 `bson:"maxIssues" json:"maxIssues"`
	CurrentIssues  int                 `bson:"currentIssues" json:"currentIssues"`
	Availability   Availability        `bson:"availability" json:"availability"`
	CreatedAt      time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time           `bson:"updatedAt" json:"updatedAt"`
	Version        int64               `bson:"version" json:"version"`
}

// HasCapacity reports whether the cached workload admits one more issue.
func (o *Officer) HasCapacity() bool {
	return o.Availability == Available && o.CurrentIssues < o.MaxIssues
}
