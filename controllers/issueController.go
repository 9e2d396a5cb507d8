package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"civicsync-dispatch/apperrors"
	"civicsync-dispatch/assignment"
	"civicsync-dispatch/classifier"
	"civicsync-dispatch/metrics"
	"civicsync-dispatch/middlewares"
	"civicsync-dispatch/models"
	"civicsync-dispatch/store"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type IssueController struct {
	store  store.Store
	engine *assignment.Engine
	logger *zap.Logger
}

func NewIssueController(s store.Store, engine *assignment.Engine, logger *zap.Logger) *IssueController {
	return &IssueController{store: s, engine: engine, logger: logger}
}

// IssueWithVotes is the list and detail representation of an issue.
type IssueWithVotes struct {
	*models.Issue
	Votes int64 `json:"votes"`
}

func (ic *IssueController) withVotes(c *gin.Context, issues []models.Issue) []IssueWithVotes {
	out := make([]IssueWithVotes, 0, len(issues))
	for i := range issues {
		votes, err := ic.store.CountVotes(c.Request.Context(), issues[i].ID)
		if err != nil {
			ic.logger.Warn("vote count failed", zap.String("issue", issues[i].ID.Hex()), zap.Error(err))
		}
		out = append(out, IssueWithVotes{Issue: &issues[i], Votes: votes})
	}
	return out
}

// CreateIssue classifies and stores a new issue
func (ic *IssueController) CreateIssue(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var input struct {
		Title       string              `json:"title" binding:"required,max=200"`
		Description string              `json:"description" binding:"required,max=1000"`
		Location    string              `json:"location" binding:"required,max=200"`
		Urgency     models.Urgency      `json:"urgency"`
		Coordinates *models.Coordinates `json:"coordinates,omitempty"`
		Tags        []string            `json:"tags,omitempty"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.Urgency == "" {
		input.Urgency = models.UrgencyMedium
	}
	if !input.Urgency.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid urgency"})
		return
	}
	if input.Coordinates != nil && !input.Coordinates.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid coordinates"})
		return
	}

	department := classifier.Classify(input.Title, input.Description, input.Location)
	issue := models.NewIssue(input.Title, input.Description, input.Location, input.Urgency,
		department, userID, time.Now())
	issue.Coordinates = input.Coordinates
	issue.Tags = input.Tags

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := ic.store.InsertIssue(ctx, issue); err != nil {
		respondError(c, ic.logger, err)
		return
	}
	metrics.RecordIssueCreated(string(department))

	c.JSON(http.StatusCreated, issue)
}

// GetAllIssues lists issues with filtering and pagination.
func (ic *IssueController) GetAllIssues(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	filter := store.IssueFilter{
		Search: c.Query("search"),
		Oldest: c.DefaultQuery("sort", "newest") == "oldest",
		Skip:   int64((page - 1) * limit),
		Limit:  int64(limit),
	}
	if status := c.Query("status"); status != "" && status != "all" {
		filter.Statuses = []models.IssueStatus{models.IssueStatus(status)}
	}
	if urgency := c.Query("urgency"); urgency != "" && urgency != "all" {
		filter.Urgency = models.Urgency(urgency)
	}
	if dept := c.Query("department"); dept != "" && dept != "all" {
		filter.Department = models.Department(dept)
	}
	for param, target := range map[string]**primitive.ObjectID{
		"assignedTo":  &filter.AssignedTo,
		"submittedBy": &filter.SubmittedBy,
	} {
		if v := c.Query(param); v != "" {
			id, err := primitive.ObjectIDFromHex(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + param})
				return
			}
			*target = &id
		}
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	total, err := ic.store.CountIssues(ctx, filter)
	if err != nil {
		respondError(c, ic.logger, err)
		return
	}
	issues, err := ic.store.QueryIssues(ctx, filter)
	if err != nil {
		respondError(c, ic.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"issues":      ic.withVotes(c, issues),
		"totalIssues": total,
		"totalPages":  (total + int64(limit) - 1) / int64(limit),
		"currentPage": page,
	})
}

// GetIssue returns one issue with its vote count.
func (ic *IssueController) GetIssue(c *gin.Context) {
	issueID, ok := pathID(c, "issue")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	issue, err := ic.store.GetIssue(ctx, issueID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, ic.logger, apperrors.IssueNotFound(issueID.Hex()))
		return
	}
	if err != nil {
		respondError(c, ic.logger, err)
		return
	}
	c.JSON(http.StatusOK, ic.withVotes(c, []models.Issue{*issue})[0])
}

// GetIssuesByUser lists the caller's own submissions.
func (ic *IssueController) GetIssuesByUser(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	issues, err := ic.store.QueryIssues(ctx, store.IssueFilter{SubmittedBy: &userID})
	if err != nil {
		respondError(c, ic.logger, err)
		return
	}
	c.JSON(http.StatusOK, ic.withVotes(c, issues))
}

// GetStats returns issue counts by status and urgency.
func (ic *IssueController) GetStats(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	stats, err := ic.store.IssueStats(ctx)
	if err != nil {
		respondError(c, ic.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// AddComment appends a comment to an issue.
func (ic *IssueController) AddComment(c *gin.Context) {
	issueID, ok := pathID(c, "issue")
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var input struct {
		Comment string `json:"comment" binding:"required,max=500"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	comment := strings.TrimSpace(input.Comment)
	if comment == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Comment text is required"})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	issue, err := ic.store.AddComment(ctx, issueID, models.Comment{
		User:      userID,
		Comment:   comment,
		CreatedAt: time.Now(),
	})
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, ic.logger, apperrors.IssueNotFound(issueID.Hex()))
		return
	}
	if err != nil {
		respondError(c, ic.logger, err)
		return
	}
	c.JSON(http.StatusCreated, issue)
}

// HandleVoteOnIssue toggles the user's vote on an issue (vote if not voted, unvote if already voted)
func (ic *IssueController) HandleVoteOnIssue(c *gin.Context) {
	issueID, ok := pathID(c, "issue")
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	voted, count, err := ic.store.ToggleVote(ctx, issueID, userID, time.Now())
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, ic.logger, apperrors.IssueNotFound(issueID.Hex()))
		return
	}
	if err != nil {
		respondError(c, ic.logger, err)
		return
	}

	message := "Vote added successfully"
	if !voted {
		message = "Vote removed successfully"
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      message,
		"userHasVoted": voted,
		"votes":        count,
	})
}

// ClassifyPreview shows which department a draft issue would be routed to.
func (ic *IssueController) ClassifyPreview(c *gin.Context) {
	var input struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Location    string `json:"location"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"department": classifier.Classify(input.Title, input.Description, input.Location),
		"scores":     classifier.Scores(input.Title, input.Description, input.Location),
	})
}

// AssignIssue hands an issue to an officer, picked automatically unless officerId is given.
func (ic *IssueController) AssignIssue(c *gin.Context) {
	issueID, ok := pathID(c, "issue")
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var input struct {
		OfficerID  string `json:"officerId"`
		Department string `json:"department"`
		Review     bool   `json:"review"`
	}
	// an empty body means auto-assign within the issue's department
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	req := assignment.Request{
		IssueID:            issueID,
		DepartmentOverride: models.Department(input.Department),
		Review:             input.Review,
		ActorID:            userID,
	}
	if input.OfficerID != "" {
		officerID, err := primitive.ObjectIDFromHex(input.OfficerID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid officer ID"})
			return
		}
		req.OfficerID = &officerID
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := ic.engine.Assign(ctx, req)
	if err != nil {
		var appErr *apperrors.AppError
		result := "error"
		if errors.As(err, &appErr) {
			result = strings.ToLower(appErr.Code)
		}
		metrics.RecordAssignment(input.Department, result)
		respondError(c, ic.logger, err)
		return
	}
	metrics.RecordAssignment(string(res.Officer.Department), "assigned")
	if res.WorkloadErr != nil {
		ic.logger.Warn("workload refresh after assignment failed",
			zap.String("issue", issueID.Hex()), zap.Error(res.WorkloadErr))
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Issue assigned successfully",
		"issue":   res.Issue,
		"officer": res.Officer,
	})
}

// UpdateStatus moves an issue along its lifecycle. Admins may move any
// issue; officers only the ones assigned to them.
func (ic *IssueController) UpdateStatus(c *gin.Context) {
	issueID, ok := pathID(c, "issue")
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var input struct {
		Status string `json:"status" binding:"required"`
		Notes  string `json:"notes" binding:"max=1000"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if c.GetString(middlewares.ContextRole) != string(models.RoleAdmin) {
		issue, err := ic.store.GetIssue(ctx, issueID)
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, ic.logger, apperrors.IssueNotFound(issueID.Hex()))
			return
		}
		if err != nil {
			respondError(c, ic.logger, err)
			return
		}
		officer, err := ic.store.GetOfficerByUser(ctx, userID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			respondError(c, ic.logger, err)
			return
		}
		if officer == nil || issue.AssignedTo == nil || *issue.AssignedTo != officer.ID {
			respondError(c, ic.logger, apperrors.Forbidden("You are not authorized to update this issue"))
			return
		}
	}

	res, err := ic.engine.Transition(ctx, assignment.TransitionRequest{
		IssueID: issueID,
		Status:  models.IssueStatus(input.Status),
		ActorID: userID,
		Notes:   input.Notes,
	})
	if err != nil {
		respondError(c, ic.logger, err)
		return
	}
	if res.WorkloadErr != nil {
		ic.logger.Warn("workload refresh after status change failed",
			zap.String("issue", issueID.Hex()), zap.Error(res.WorkloadErr))
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Issue status updated successfully",
		"issue":   res.Issue,
	})
}
