package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"civicsync-dispatch/middlewares"
	"civicsync-dispatch/models"
	"civicsync-dispatch/store"
	authUtils "civicsync-dispatch/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthSettings are the parts of the config the auth handlers need.
type AuthSettings struct {
	Secret     string
	TokenTTL   time.Duration
	Domain     string
	Production bool
}

type AuthController struct {
	users    store.UserStore
	settings AuthSettings
	logger   *zap.Logger
}

func NewAuthController(users store.UserStore, settings AuthSettings, logger *zap.Logger) *AuthController {
	return &AuthController{users: users, settings: settings, logger: logger}
}

func userView(u *models.User) gin.H {
	return gin.H{
		"id":        u.ID,
		"name":      u.Name,
		"email":     u.Email,
		"role":      u.Role,
		"createdAt": u.CreatedAt,
	}
}

// RegisterUser handles citizen registration
func (a *AuthController) RegisterUser(c *gin.Context) {
	var input struct {
		Name     string `json:"name" binding:"required,max=50"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=6"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := models.NewUser(input.Name, input.Email, input.Password, models.RoleCitizen, time.Now())
	if err != nil {
		respondError(c, a.logger, err)
		return
	}

	if err := a.users.InsertUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "User with this email already exists"})
			return
		}
		respondError(c, a.logger, err)
		return
	}

	c.JSON(http.StatusCreated, userView(user))
}

// LoginUser checks credentials and issues a session token as cookie and body field.
func (a *AuthController) LoginUser(c *gin.Context) {
	var input struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := a.users.GetUserByEmail(ctx, strings.ToLower(input.Email))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		respondError(c, a.logger, err)
		return
	}
	if user == nil || !user.ComparePassword(input.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := authUtils.GenerateToken(user.ID.Hex(), string(user.Role), a.settings.Secret, a.settings.TokenTTL)
	if err != nil {
		respondError(c, a.logger, err)
		return
	}

	// For production, don't set domain to allow cross-origin cookies
	domain := a.settings.Domain
	if a.settings.Production {
		domain = ""
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     middlewares.AuthCookie,
		Value:    token,
		MaxAge:   int(a.settings.TokenTTL.Seconds()),
		Path:     "/",
		Domain:   domain,
		Secure:   a.settings.Production,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	})

	body := userView(user)
	body["token"] = token
	c.JSON(http.StatusOK, body)
}

// GetMe returns the authenticated user.
func (a *AuthController) GetMe(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := a.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		respondError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, userView(user))
}

// LogoutUser clears the auth cookie.
func (a *AuthController) LogoutUser(c *gin.Context) {
	c.SetCookie(middlewares.AuthCookie, "", -1, "/", a.settings.Domain, a.settings.Production, true)
	c.JSON(http.StatusOK, gin.H{
		"message": "Logged out successfully",
	})
}
