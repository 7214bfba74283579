package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"nongsaijai/api/internal/auth"
	"nongsaijai/api/internal/rbac"
	"nongsaijai/api/internal/session"
)

const (
	sessionCookie   = "nsj_session"
	isAdminCookie   = "nsj_is_admin"
	syncTokenHeader = "X-NSJ-Sync-Token"
	actorKey        = "actor"
)

type HTTPServer struct {
	service    *Service
	echo       *echo.Echo
	logger     *zap.Logger
	corsOrigin string
}

// NewHTTPServer builds the echo router. gatherer may be nil, in which case
// /api/metrics is not served.
func NewHTTPServer(service *Service, corsOrigin string, gatherer prometheus.Gatherer) *HTTPServer {
	logger := service.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &HTTPServer{
		service:    service,
		echo:       echo.New(),
		logger:     logger.Named("http"),
		corsOrigin: corsOrigin,
	}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLog)
	if service.metrics != nil {
		e.Use(service.metrics.Middleware())
	}
	if corsOrigin != "" {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     []string{corsOrigin},
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, echo.HeaderXRequestID},
			AllowCredentials: true,
		}))
	}
	e.Use(noStore)

	s.registerRoutes(gatherer)
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

func (s *HTTPServer) registerRoutes(gatherer prometheus.Gatherer) {
	api := s.echo.Group("/api")

	api.GET("/health", s.handleHealth)
	api.HEAD("/health", s.handleHealth)
	api.GET("/ready", s.handleReady)
	if gatherer != nil {
		api.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api.POST("/auth/exchange", s.handleExchange)
	api.GET("/auth/session", s.handleAuthSession)
	api.POST("/auth/logout", s.handleLogout)

	api.PUT("/internal/sessions/:id/classification", s.handleClassification)

	chat := api.Group("/chat", s.requireSession, s.require(rbac.ActionChat))
	chat.POST("/sessions", s.handleCreateChatSession)
	chat.GET("/sessions/:id/messages", s.handleListOwnMessages)
	chat.POST("/sessions/:id/messages", s.handleAppendMessage)

	admin := api.Group("", s.requireSession)
	admin.GET("/sessions", s.handleListSessions, s.require(rbac.ActionReview))
	admin.GET("/sessions/:id", s.handleGetSession, s.require(rbac.ActionReview))
	admin.GET("/sessions/:id/messages", s.handleSessionMessages, s.require(rbac.ActionReview))
	admin.PATCH("/sessions/:id/proj-code", s.handleProjectCode, s.require(rbac.ActionOverride))
	admin.POST("/override/:sessionId", s.handleOverride, s.require(rbac.ActionOverride))
	admin.DELETE("/override/:sessionId", s.handleDeactivateOverride, s.require(rbac.ActionOverride))
	admin.GET("/concern-targets", s.handleConcernTargets, s.require(rbac.ActionReview))
	admin.GET("/pm/lookups/:group", s.handleLookups, s.require(rbac.ActionPMWrite))
	admin.GET("/pm/projects/:code/manager", s.handleProjectManager, s.require(rbac.ActionPMWrite))
	admin.POST("/issues", s.handleIssueLog, s.require(rbac.ActionPMWrite))
	admin.POST("/risk-logs", s.handleRiskLog, s.require(rbac.ActionPMWrite))
	admin.GET("/export/executive", s.handleExportExecutive, s.require(rbac.ActionExport))
	admin.GET("/audit-logs", s.handleAuditLogs, s.require(rbac.ActionAudit))
}

func (s *HTTPServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	return c.JSON(statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleExchange trades the portal bearer token for the session cookies.
func (s *HTTPServer) handleExchange(c echo.Context) error {
	token, ok := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if !ok {
		var body struct {
			Token string `json:"token"`
		}
		_ = bindJSON(c, &body)
		token = strings.TrimSpace(body.Token)
	}
	if token == "" {
		return errUnauthorized
	}

	data, err := s.service.ExchangeToken(c.Request().Context(), token)
	if err != nil {
		return err
	}
	s.setSessionCookies(c, data)
	return c.JSON(http.StatusOK, identityView(data))
}

func (s *HTTPServer) handleAuthSession(c echo.Context) error {
	data, err := s.currentSession(c)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return c.JSON(http.StatusOK, map[string]any{"authenticated": false})
		}
		return err
	}
	return c.JSON(http.StatusOK, identityView(data))
}

func (s *HTTPServer) handleLogout(c echo.Context) error {
	if cookie, err := c.Cookie(sessionCookie); err == nil {
		if err := s.service.Logout(c.Request().Context(), cookie.Value); err != nil {
			return err
		}
	}
	s.clearSessionCookies(c)
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleClassification(c echo.Context) error {
	expected := s.service.SyncToken()
	provided := strings.TrimSpace(c.Request().Header.Get(syncTokenHeader))
	if expected == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return errUnauthorized
	}
	var body ClassificationInput
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	result, err := s.service.UpdateClassification(c.Request().Context(), c.Param("id"), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleCreateChatSession(c echo.Context) error {
	result, err := s.service.CreateChatSession(c.Request().Context(), actorFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

func (s *HTTPServer) handleListOwnMessages(c echo.Context) error {
	result, err := s.service.ListOwnMessages(c.Request().Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleAppendMessage(c echo.Context) error {
	var body MessageInput
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	result, err := s.service.AppendMessage(c.Request().Context(), actorFrom(c), c.Param("id"), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

func (s *HTTPServer) handleListSessions(c echo.Context) error {
	input, err := listInputFromQuery(c)
	if err != nil {
		return err
	}
	result, err := s.service.ListSessions(c.Request().Context(), input)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleGetSession(c echo.Context) error {
	result, err := s.service.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleSessionMessages(c echo.Context) error {
	result, err := s.service.ListSessionMessages(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleProjectCode(c echo.Context) error {
	var body struct {
		ProjectCode *string `json:"proj_code"`
	}
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	result, err := s.service.UpdateProjectCode(c.Request().Context(), actorFrom(c), c.Param("id"), body.ProjectCode)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleOverride(c echo.Context) error {
	var body OverrideInput
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	result, err := s.service.SubmitOverride(c.Request().Context(), actorFrom(c), c.Param("sessionId"), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleDeactivateOverride(c echo.Context) error {
	result, err := s.service.DeactivateOverride(c.Request().Context(), actorFrom(c), c.Param("sessionId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleConcernTargets(c echo.Context) error {
	return c.JSON(http.StatusOK, s.service.ConcernTargets())
}

func (s *HTTPServer) handleLookups(c echo.Context) error {
	result, err := s.service.ListLookups(c.Request().Context(), c.Param("group"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleProjectManager(c echo.Context) error {
	result, err := s.service.ProjectManager(c.Request().Context(), c.Param("code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *HTTPServer) handleIssueLog(c echo.Context) error {
	var body IssueLogInput
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	result, err := s.service.CreateIssueLog(c.Request().Context(), actorFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

func (s *HTTPServer) handleRiskLog(c echo.Context) error {
	var body RiskLogInput
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	result, err := s.service.CreateRiskLog(c.Request().Context(), actorFrom(c), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

func (s *HTTPServer) handleExportExecutive(c echo.Context) error {
	filter, err := listInputFromQuery(c)
	if err != nil {
		return err
	}
	archive, err := parseBoolQuery(c, "archive")
	if err != nil {
		return err
	}
	result, err := s.service.ExportExecutive(c.Request().Context(), actorFrom(c), ExportInput{
		Format:  c.QueryParam("format"),
		Archive: archive,
		Filter:  filter,
	})
	if err != nil {
		return err
	}
	header := c.Response().Header()
	header.Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", result.Filename))
	if result.ArchiveKey != "" {
		header.Set("X-Archive-Key", result.ArchiveKey)
	}
	if result.DownloadURL != "" {
		header.Set("X-Archive-URL", result.DownloadURL)
	}
	return c.Blob(http.StatusOK, result.MimeType, result.Data)
}

func (s *HTTPServer) handleAuditLogs(c echo.Context) error {
	limit, err := parseIntQuery(c, "limit")
	if err != nil {
		return err
	}
	result, err := s.service.ListAuditLogs(c.Request().Context(), c.QueryParam("session_id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// requireSession resolves the session cookie against the server-side store.
// The nsj_is_admin cookie is never trusted for authorization.
func (s *HTTPServer) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := s.currentSession(c)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				return errUnauthorized
			}
			return err
		}
		c.Set(actorKey, data)
		return next(c)
	}
}

func (s *HTTPServer) require(action rbac.Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := actorFrom(c)
			if !s.service.Can(actor, action) {
				s.logger.Info("forbidden",
					zap.String("user_id", actor.UserID),
					zap.String("action", string(action)),
					zap.String("path", c.Path()),
				)
				return errForbidden
			}
			return next(c)
		}
	}
}

func (s *HTTPServer) currentSession(c echo.Context) (session.Data, error) {
	cookie, err := c.Cookie(sessionCookie)
	if err != nil {
		return session.Data{}, session.ErrSessionNotFound
	}
	return s.service.SessionFromCookie(c.Request().Context(), cookie.Value)
}

func (s *HTTPServer) setSessionCookies(c echo.Context, data session.Data) {
	maxAge := int(s.service.cfg.SessionTTL / time.Second)
	sameSite := http.SameSiteLaxMode
	if s.service.cfg.CookieSecure {
		// the chat widget is embedded cross-site in the portal iframe
		sameSite = http.SameSiteNoneMode
	}
	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    data.ID,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  data.ExpiresAt,
		HttpOnly: true,
		Secure:   s.service.cfg.CookieSecure,
		SameSite: sameSite,
	})
	c.SetCookie(&http.Cookie{
		Name:     isAdminCookie,
		Value:    strconv.FormatBool(data.IsAdmin),
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  data.ExpiresAt,
		Secure:   s.service.cfg.CookieSecure,
		SameSite: sameSite,
	})
}

func (s *HTTPServer) clearSessionCookies(c echo.Context) {
	for _, name := range []string{sessionCookie, isAdminCookie} {
		c.SetCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: name == sessionCookie,
			Secure:   s.service.cfg.CookieSecure,
		})
	}
}

func (s *HTTPServer) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		s.logger.Info("http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return nil
	}
}

// handleError writes the {code, error, details} envelope.
func (s *HTTPServer) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		status  int
		code    string
		message string
		details any
	)
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		code = httpStatusCode(status)
		message = fmt.Sprint(httpErr.Message)
	} else {
		status, code, message, details = mapError(err)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err),
		)
	}

	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, response)
}

func httpStatusCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusBadRequest:
		return "INVALID_BODY"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	default:
		if status >= http.StatusInternalServerError {
			return "SERVER_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func noStore(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
		return next(c)
	}
}

func actorFrom(c echo.Context) session.Data {
	data, _ := c.Get(actorKey).(session.Data)
	return data
}

func identityView(data session.Data) map[string]any {
	return map[string]any{
		"authenticated": true,
		"user_id":       data.UserID,
		"user_name":     data.UserName,
		"email":         nilIfEmpty(data.Email),
		"is_admin":      data.IsAdmin,
		"expires_at":    data.ExpiresAt,
	}
}

func bindJSON(c echo.Context, target any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, target); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	return nil
}

func listInputFromQuery(c echo.Context) (SessionListInput, error) {
	limit, err := parseIntQuery(c, "limit")
	if err != nil {
		return SessionListInput{}, err
	}
	offset, err := parseIntQuery(c, "offset")
	if err != nil {
		return SessionListInput{}, err
	}
	return SessionListInput{
		Status:      c.QueryParam("status"),
		Category:    c.QueryParam("category"),
		ProjectCode: c.QueryParam("proj_code"),
		HasOverride: c.QueryParam("has_override"),
		Query:       c.QueryParam("q"),
		Limit:       limit,
		Offset:      offset,
	}, nil
}

func parseIntQuery(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validationError(name+" must be an integer", nil)
	}
	return value, nil
}

func parseBoolQuery(c echo.Context, name string) (bool, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, validationError(name+" must be true or false", nil)
	}
	return value, nil
}
