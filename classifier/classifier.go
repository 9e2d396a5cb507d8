// Package classifier routes a new issue to a department by weighted keyword scoring.
package classifier

import (
	"strings"

	"civicsync-dispatch/models"
)

// Field weights: a hit in the title counts more than one in the description or location.
const (
	TitleWeight       = 3
	DescriptionWeight = 2
	LocationWeight    = 1
)

// Fallback is returned when no department scores above zero.
const Fallback = models.GeneralServices

// Entry binds a department to the keywords that route to it.
type Entry struct {
	Department models.Department
	Keywords   []string
}

// Catalog is the canonical routing table. Order matters: it breaks score ties.
var Catalog = []Entry{
	{
		Department: models.WaterDepartment,
		Keywords: []string{
			"water", "leak", "pipe", "sewage", "sewer", "drain", "flood",
			"burst", "hydrant", "overflow", "supply",
		},
	},
	{
		Department: models.ElectricityDept,
		Keywords: []string{
			"street light", "streetlight", "light", "electric", "power",
			"outage", "wire", "transformer", "voltage", "blackout",
		},
	},
	{
		Department: models.RoadConstruction,
		Keywords: []string{
			"pothole", "road", "street", "asphalt", "pavement", "sidewalk",
			"traffic", "bridge", "highway", "crack", "infrastructure",
		},
	},
	{
		Department: models.EnvironmentalService,
		Keywords: []string{
			"garbage", "trash", "waste", "litter", "dump", "pollution",
			"smell", "recycling", "fallen tree", "park", "noise",
		},
	},
	{
		Department: models.PublicWorks,
		Keywords: []string{
			"building", "construction", "repair", "maintenance", "bench",
			"playground", "public toilet", "infrastructure",
		},
	},
}

// Score is one department's total for a piece of text.
type Score struct {
	Department models.Department `json:"department"`
	Score      int               `json:"score"`
}

// Scores returns the per-department totals in catalog order.
func Scores(title, description, location string) []Score {
	title = strings.ToLower(title)
	description = strings.ToLower(description)
	location = strings.ToLower(location)

	scores := make([]Score, 0, len(Catalog))
	for _, entry := range Catalog {
		total := 0
		for _, kw := range entry.Keywords {
			total += TitleWeight * strings.Count(title, kw)
			total += DescriptionWeight * strings.Count(description, kw)
			total += LocationWeight * strings.Count(location, kw)
		}
		scores = append(scores, Score{Department: entry.Department, Score: total})
	}
	return scores
}

// Classify picks the department with the strictly highest score, the earliest
// catalog entry on ties, and Fallback when nothing matches.
func Classify(title, description, location string) models.Department {
	best := Fallback
	bestScore := 0
	for _, s := range Scores(title, description, location) {
		if s.Score > bestScore {
			best = s.Department
			bestScore = s.Score
		}
	}
	return best
}

// Known reports whether dept is a routable department, the fallback included.
func Known(dept models.Department) bool {
	if dept == Fallback {
		return true
	}
	for _, entry := range Catalog {
		if entry.Department == dept {
			return true
		}
	}
	return false
}

// Departments lists every routable department in catalog order, fallback last.
func Departments() []models.Department {
	out := make([]models.Department, 0, len(Catalog)+1)
	for _, entry := range Catalog {
		out = append(out, entry.Department)
	}
	return append(out, Fallback)
}
