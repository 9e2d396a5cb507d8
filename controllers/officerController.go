package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"civicsync-dispatch/apperrors"
	"civicsync-dispatch/assignment"
	"civicsync-dispatch/classifier"
	"civicsync-dispatch/models"
	"civicsync-dispatch/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type OfficerController struct {
	store  store.Store
	engine *assignment.Engine
	logger *zap.Logger
}

func NewOfficerController(s store.Store, engine *assignment.Engine, logger *zap.Logger) *OfficerController {
	return &OfficerController{store: s, engine: engine, logger: logger}
}

// CreateOfficer registers an officer. With a password a login account with
// the officer role is created and linked.
func (oc *OfficerController) CreateOfficer(c *gin.Context) {
	var input struct {
		Name           string  `json:"name" binding:"required,max=100"`
		Email          string  `json:"email" binding:"required,email"`
		Password       string  `json:"password" binding:"omitempty,min=6"`
		Department     string  `json:"department" binding:"required"`
		Specialization string  `json:"specialization" binding:"max=100"`
		Experience     string  `json:"experience" binding:"max=100"`
		Rating         float64 `json:"rating" binding:"gte=0,lte=5"`
		MaxIssues      int     `json:"maxIssues" binding:"required,gte=1"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dept := models.Department(input.Department)
	if !classifier.Known(dept) {
		respondError(c, oc.logger, apperrors.Validation("Unknown department",
			map[string]string{"department": input.Department}))
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	now := time.Now()
	officer := models.Officer{
		Name:           input.Name,
		Email:          strings.ToLower(input.Email),
		Department:     dept,
		Specialization: input.Specialization,
		Experience:     input.Experience,
		Rating:         input.Rating,
		MaxIssues:      input.MaxIssues,
		Availability:   models.Available,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if input.Password != "" {
		user, err := models.NewUser(input.Name, officer.Email, input.Password, models.RoleOfficer, now)
		if err != nil {
			respondError(c, oc.logger, err)
			return
		}
		if err := oc.store.InsertUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "User with this email already exists"})
				return
			}
			respondError(c, oc.logger, err)
			return
		}
		officer.UserID = &user.ID
	}

	if err := oc.store.InsertOfficer(ctx, &officer); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Officer with this email already exists"})
			return
		}
		respondError(c, oc.logger, err)
		return
	}
	c.JSON(http.StatusCreated, officer)
}

// GetOfficers lists officers, optionally by department and availability.
func (oc *OfficerController) GetOfficers(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	officers, err := oc.store.QueryOfficers(ctx, store.OfficerFilter{
		Department:   models.Department(c.Query("department")),
		Availability: models.Availability(c.Query("availability")),
	})
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}
	if c.Query("ranked") == "true" {
		assignment.Rank(officers)
	}
	c.JSON(http.StatusOK, officers)
}

func (oc *OfficerController) GetOfficer(c *gin.Context) {
	officerID, ok := pathID(c, "officer")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	officer, err := oc.store.GetOfficer(ctx, officerID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, oc.logger, apperrors.OfficerNotFound(officerID.Hex()))
		return
	}
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}
	c.JSON(http.StatusOK, officer)
}

// RecomputeWorkload repairs an officer's cached workload from the issues collection.
func (oc *OfficerController) RecomputeWorkload(c *gin.Context) {
	officerID, ok := pathID(c, "officer")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	officer, err := oc.engine.RecomputeWorkload(ctx, officerID)
	if err != nil {
		respondError(c, oc.logger, err)
		return
	}
	c.JSON(http.StatusOK, officer)
}
