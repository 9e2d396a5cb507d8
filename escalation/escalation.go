// Package escalation moves unresolved issues up the Block, District, State,
// Court ladder as they age.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"civicsync-dispatch/models"
	"civicsync-dispatch/notify"
	"civicsync-dispatch/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const day = 24 * time.Hour

// Tier thresholds in whole elapsed days.
const (
	DistrictAfterDays = 7
	StateAfterDays    = 14
	CourtAfterDays    = 30
)

// Compute returns the level an issue submitted at submitted deserves at now.
// A now before submitted counts as zero days.
func Compute(submitted, now time.Time) models.EscalationLevel {
	d := int(now.Sub(submitted) / day)
	switch {
	case d >= CourtAfterDays:
		return models.LevelCourt
	case d >= StateAfterDays:
		return models.LevelState
	case d >= DistrictAfterDays:
		return models.LevelDistrict
	}
	return models.LevelBlock
}

// Recompute returns the issue's next level: never lower than the current one,
// and unchanged once the issue is resolved or rejected.
func Recompute(issue *models.Issue, now time.Time) models.EscalationLevel {
	if issue.Status.Closed() {
		return issue.EscalationLevel
	}
	computed := Compute(issue.SubmittedDate, now)
	if computed.Rank() > issue.EscalationLevel.Rank() {
		return computed
	}
	return issue.EscalationLevel
}

// Store is the part of the record store a sweep needs.
type Store interface {
	QueryIssues(ctx context.Context, filter store.IssueFilter) ([]models.Issue, error)
	AdvanceEscalation(ctx context.Context, id primitive.ObjectID, from, to models.EscalationLevel, at time.Time) (bool, error)
}

// Change is one applied level increase.
type Change struct {
	Issue *models.Issue
	From  models.EscalationLevel
	To    models.EscalationLevel
}

// Report summarises one sweep.
type Report struct {
	Scanned   int
	Escalated int
	// Skipped counts issues closed or moved by someone else between read and write.
	Skipped int
	Changes []Change
}

type Sweeper struct {
	store Store
	sink  notify.Sink
}

func NewSweeper(s Store, sink notify.Sink) *Sweeper {
	return &Sweeper{store: s, sink: sink}
}

// Sweep advances every open issue whose level is behind its age. Per-issue
// failures are collected and the sweep carries on.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Report, error) {
	issues, err := s.store.QueryIssues(ctx, store.IssueFilter{
		NotStatuses: []models.IssueStatus{models.Resolved, models.Rejected},
		Oldest:      true,
	})
	if err != nil {
		return Report{}, fmt.Errorf("query open issues: %w", err)
	}

	var (
		report Report
		errs   []error
	)
	for i := range issues {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		issue := &issues[i]
		report.Scanned++

		next := Recompute(issue, now)
		if next == issue.EscalationLevel {
			continue
		}

		applied, err := s.store.AdvanceEscalation(ctx, issue.ID, issue.EscalationLevel, next, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("escalate issue %s: %w", issue.ID.Hex(), err))
			continue
		}
		if !applied {
			report.Skipped++
			continue
		}

		from := issue.EscalationLevel
		issue.EscalationLevel = next
		report.Escalated++
		report.Changes = append(report.Changes, Change{Issue: issue, From: from, To: next})

		s.sink.Notify(ctx, issue.SubmittedBy, "Issue Escalated",
			fmt.Sprintf("Your issue %q has been escalated from %s to %s level.", issue.Title, from, next),
			map[string]interface{}{
				"issueId": issue.ID.Hex(),
				"from":    string(from),
				"to":      string(next),
				"urgency": string(issue.Urgency),
			})
	}
	return report, errors.Join(errs...)
}
