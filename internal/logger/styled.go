// internal/logger/styled.go
package logger

import (
	"fmt"
	"log/slog"

	"github.com/thushan/rama/theme"
)

// UpstreamStatus is the health state of a proxied upstream/tunnel target,
// as tracked by internal/upstream and reported through StyledLogger.
type UpstreamStatus int

const (
	StatusUnknown UpstreamStatus = iota
	StatusHealthy
	StatusUnhealthy
)

func (s UpstreamStatus) String() string {
	switch s {
	case StatusHealthy:
		return "Healthy"
	case StatusUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// StyledLogger wraps slog.Logger with theme-aware formatting methods for
// the handful of recurring log shapes rama emits: counts, upstream/tunnel
// identifiers, and health-state transitions.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger creates a new styled logger with the given theme
func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		theme:  theme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Accent.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

// InfoWithUpstream logs msg with the upstream/tunnel authority highlighted.
func (sl *StyledLogger) InfoWithUpstream(msg string, upstream string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Highlight.Sprint(upstream))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithUpstream(msg string, upstream string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Highlight.Sprint(upstream))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorWithUpstream(msg string, upstream string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Highlight.Sprint(upstream))
	sl.logger.Error(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithNumbers(msg string, numbers ...int64) {
	var formatted []string
	for _, num := range numbers {
		formatted = append(formatted, sl.theme.Accent.Sprint(num))
	}
	sl.logger.Info(fmt.Sprintf(msg, toInterfaceSlice(formatted)...))
}

// InfoHealthStatus logs an upstream's health transition, styled by status.
func (sl *StyledLogger) InfoHealthStatus(msg string, name string, status UpstreamStatus, args ...any) {
	var style = sl.theme.Muted
	switch status {
	case StatusHealthy:
		style = sl.theme.Success
	case StatusUnhealthy:
		style = sl.theme.Error
	}
	styledMsg := fmt.Sprintf("%s %s is %s", msg, sl.theme.Highlight.Sprint(name), style.Sprint(status.String()))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoHealthy(msg string, upstream string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Success.Sprint(upstream))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnUnhealthy(msg string, upstream string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Error.Sprint(upstream))
	sl.logger.Warn(styledMsg, args...)
}

// InfoWithHealthStats reports the current healthy/unhealthy/unknown tallies
// for an upstream pool.
func (sl *StyledLogger) InfoWithHealthStats(msg string, healthy, unhealthy, unknown int, args ...any) {
	allArgs := make([]any, 0, len(args)+6)
	allArgs = append(allArgs, args...)
	allArgs = append(allArgs,
		"healthy", sl.theme.Success.Sprint(healthy),
		"unhealthy", sl.theme.Error.Sprint(unhealthy),
		"unknown", sl.theme.Muted.Sprint(unknown),
	)
	sl.logger.Info(msg, allArgs...)
}

// GetUnderlying returns the underlying slog.Logger for cases where direct access is needed
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs creates a new StyledLogger with additional structured attributes
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}
	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// With creates a new StyledLogger with additional key-value pairs
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

func toInterfaceSlice(strs []string) []interface{} {
	result := make([]interface{}, len(strs))
	for i, s := range strs {
		result[i] = s
	}
	return result
}

// NewWithTheme creates both a regular logger and a styled logger
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styledLogger := NewStyledLogger(logger, appTheme)

	return logger, styledLogger, cleanup, nil
}
