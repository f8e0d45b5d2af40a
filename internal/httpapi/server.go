// Package httpapi exposes the read API over the resolved corpus plus the
// candidate submission endpoint that drives the resolution pipeline.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/sentry/internal/db"
	"horse.fit/sentry/internal/globaltime"
	"horse.fit/sentry/internal/langdetect"
	"horse.fit/sentry/internal/resolve"
	payloadschema "horse.fit/sentry/schema"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxPayloadBytes  = 1 << 20
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	pool     *db.Pool
	resolver *resolve.Policy
	logger   zerolog.Logger
	opts     Options
}

func NewServer(pool *db.Pool, resolver *resolve.Policy, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		// Candidate resolution may hold the request open across judge
		// retries, so the write side gets a generous window.
		writeTimeout = 120 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:     pool,
		resolver: resolver,
		logger:   logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil || s.resolver == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/articles", s.handleArticles)
	api.GET("/articles/:slug", s.handleArticleDetail)
	api.GET("/resolutions", s.handleResolutions)
	api.GET("/search", s.handleSearch)
	api.POST("/candidates", s.handleCandidate)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("sentry api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("sentry api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "sentry",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleArticles(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultListLimit, 1, maxListLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	from, err := parseTimeFilter(c.QueryParam("from"), false)
	if err != nil {
		return failValidation(c, map[string]string{"from": "must be RFC3339 or YYYY-MM-DD"})
	}
	to, err := parseTimeFilter(c.QueryParam("to"), true)
	if err != nil {
		return failValidation(c, map[string]string{"to": "must be RFC3339 or YYYY-MM-DD"})
	}

	now := globaltime.UTC()
	fromValue := now.AddDate(0, 0, -30)
	if from != nil {
		fromValue = *from
	}
	toValue := now
	if to != nil {
		toValue = *to
	}
	if fromValue.After(toValue) {
		return failValidation(c, map[string]string{"time_range": "from must be <= to"})
	}

	items, err := s.pool.ListArticles(c.Request().Context(), fromValue, toValue, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query articles failed")
		return internalError(c, "Failed to load articles")
	}

	return success(c, map[string]any{
		"items": items,
		"filters": map[string]any{
			"from":  fromValue,
			"to":    toValue,
			"limit": limit,
		},
	})
}

func (s *Server) handleArticleDetail(c echo.Context) error {
	slug := strings.TrimSpace(c.Param("slug"))
	if slug == "" {
		return failValidation(c, map[string]string{"slug": "is required"})
	}

	detail, err := s.pool.GetArticleBySlug(c.Request().Context(), slug)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Article not found")
		}
		s.logger.Error().Err(err).Str("slug", slug).Msg("query article detail failed")
		return internalError(c, "Failed to load article")
	}

	return success(c, detail)
}

func (s *Server) handleResolutions(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultListLimit, 1, maxListLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	resolution := strings.TrimSpace(strings.ToLower(c.QueryParam("resolution")))
	switch resolution {
	case "", "new", "skip_fts", "skip_llm", "skip_update":
	default:
		return failValidation(c, map[string]string{"resolution": "must be one of new, skip_fts, skip_llm, skip_update"})
	}

	items, err := s.pool.ListResolutions(c.Request().Context(), resolution, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query resolutions failed")
		return internalError(c, "Failed to load resolutions")
	}

	return success(c, map[string]any{
		"items": items,
		"filters": map[string]any{
			"resolution": resolution,
			"limit":      limit,
		},
	})
}

func (s *Server) handleSearch(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return failValidation(c, map[string]string{"q": "is required"})
	}

	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultListLimit, 1, maxListLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	items, err := s.pool.SearchArticles(c.Request().Context(), query, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("q", query).Msg("search articles failed")
		return internalError(c, "Failed to search articles")
	}

	return success(c, map[string]any{
		"items": items,
		"q":     query,
		"limit": limit,
	})
}

func (s *Server) handleCandidate(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPayloadBytes+1))
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not read request body"})
	}
	if len(raw) > maxPayloadBytes {
		return fail(c, http.StatusRequestEntityTooLarge, "Payload too large", nil)
	}

	payload, err := payloadschema.ValidateCandidatePayload(json.RawMessage(raw))
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	cand := resolve.CandidateFromPayload(payload, langdetect.DetectISO6391)

	result, err := s.resolver.Resolve(c.Request().Context(), cand)
	if err != nil {
		if errors.Is(err, resolve.ErrNoUsableInput) {
			return fail(c, http.StatusUnprocessableEntity, "Candidate has no usable input", nil)
		}
		s.logger.Error().
			Err(err).
			Str("source", cand.Source).
			Str("source_item_id", cand.SourceItemID).
			Msg("resolve candidate failed")
		return internalError(c, "Failed to resolve candidate")
	}

	data := map[string]any{
		"resolution": result.Record.Resolution,
		"decided_by": result.Record.DecidedBy,
	}
	if result.Record.SimilarityScore != nil {
		data["similarity_score"] = *result.Record.SimilarityScore
	}
	if result.Record.MatchedArticleID != nil {
		data["matched_article_id"] = *result.Record.MatchedArticleID
	}
	if result.Record.SkipReasoning != nil {
		data["skip_reasoning"] = *result.Record.SkipReasoning
	}
	if result.Record.JudgeError != nil {
		data["judge_error"] = *result.Record.JudgeError
	}
	if result.Created != nil {
		data["article_id"] = result.Created.ArticleID
		data["slug"] = result.Created.Slug
		return successWithStatus(c, http.StatusCreated, data)
	}
	return success(c, data)
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseTimeFilter(raw string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		utc := ts.UTC()
		return &utc, nil
	}

	if day, err := time.Parse("2006-01-02", trimmed); err == nil {
		utc := day.UTC()
		if endOfDay {
			utc = utc.Add((24 * time.Hour) - time.Nanosecond)
		}
		return &utc, nil
	}

	return nil, fmt.Errorf("invalid time format")
}
