package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/King-Eliah/mentorship-platform-sub001/internal/auth"
	"github.com/King-Eliah/mentorship-platform-sub001/internal/server/models"
	"github.com/King-Eliah/mentorship-platform-sub001/internal/server/ratelimit"
	"github.com/King-Eliah/mentorship-platform-sub001/internal/server/storage"
)

const claimsKey = "claims"

// API is the REST collaborator of the realtime core: login/register
// plus the snapshot endpoints the client seeds its store from.
type API struct {
	Store          *storage.Store
	Auth           *auth.Authenticator
	Limiter        *ratelimit.Limiter
	Log            zerolog.Logger
	HistoryDefault int
}

func (a *API) Register(e *echo.Echo) {
	e.GET("/health", a.health)
	e.POST("/api/register", a.register)
	e.POST("/api/login", a.login)

	g := e.Group("/api", a.requireAuth)
	g.GET("/conversations", a.listConversations)
	g.GET("/conversations/:id/messages", a.listMessages)
}

func (a *API) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) register(c echo.Context) error {
	if !a.Limiter.AllowAuth(ratelimit.GetClientIP(c.Request())) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many attempts")
	}

	var req models.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Username == "" || len(req.Password) < 8 {
		return echo.NewHTTPError(http.StatusBadRequest, "username and a password of at least 8 characters are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "hash failure")
	}

	display := req.DisplayName
	if display == "" {
		display = req.Username
	}
	user, err := a.Store.CreateUser(req.Username, display, string(hash))
	if err != nil {
		a.Log.Warn().Err(err).Str("username", req.Username).Msg("register failed")
		return echo.NewHTTPError(http.StatusConflict, "username taken")
	}

	return a.issueSession(c, user)
}

func (a *API) login(c echo.Context) error {
	if !a.Limiter.AllowAuth(ratelimit.GetClientIP(c.Request())) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many attempts")
	}

	var creds models.Credentials
	if err := c.Bind(&creds); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	user, err := a.Store.GetUserByUsername(creds.Username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		a.Log.Error().Err(err).Msg("login lookup failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "try again")
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	return a.issueSession(c, user)
}

func (a *API) issueSession(c echo.Context, user *models.User) error {
	token, err := a.Auth.Issue(user.ID, user.Username)
	if err != nil {
		a.Log.Error().Err(err).Msg("token issue failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "try again")
	}
	return c.JSON(http.StatusOK, models.LoginResponse{Token: token, User: *user})
}

func (a *API) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := a.Auth.Validate(header[len(prefix):])
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		c.Set(claimsKey, claims)
		return next(c)
	}
}

func (a *API) listConversations(c echo.Context) error {
	claims := c.Get(claimsKey).(*auth.Claims)
	convs, err := a.Store.ListConversations(claims.UserID)
	if err != nil {
		a.Log.Error().Err(err).Msg("list conversations failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "try again")
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	return c.JSON(http.StatusOK, convs)
}

func (a *API) listMessages(c echo.Context) error {
	claims := c.Get(claimsKey).(*auth.Claims)
	conversationID := c.Param("id")

	ua, ub, err := a.Store.Participants(conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown conversation")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "try again")
	}
	if claims.UserID != ua && claims.UserID != ub {
		return echo.NewHTTPError(http.StatusForbidden, "not a participant")
	}

	limit := a.HistoryDefault
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	msgs, err := a.Store.ListMessages(conversationID, limit)
	if err != nil {
		a.Log.Error().Err(err).Msg("list messages failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "try again")
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	// Reading history counts as reading.
	if err := a.Store.MarkRead(conversationID, claims.UserID); err != nil {
		a.Log.Warn().Err(err).Msg("mark read failed")
	}
	return c.JSON(http.StatusOK, msgs)
}
