package controllers

import (
	"context"
	"net/http"
	"strconv"

	"civicsync-dispatch/notify"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Inbox lists stored notifications for a recipient.
type Inbox interface {
	List(ctx context.Context, recipient primitive.ObjectID, limit int) ([]notify.Notification, error)
}

type NotificationController struct {
	inbox  Inbox
	logger *zap.Logger
}

func NewNotificationController(inbox Inbox, logger *zap.Logger) *NotificationController {
	return &NotificationController{inbox: inbox, logger: logger}
}

// GetNotifications returns the caller's newest notifications.
func (nc *NotificationController) GetNotifications(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	ctx, cancel := requestContext(c)
	defer cancel()

	items, err := nc.inbox.List(ctx, userID, limit)
	if err != nil {
		respondError(c, nc.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}
