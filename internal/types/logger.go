package types

import "log/slog"

// SlogAdapter wraps *slog.Logger to implement Logger. slog.Logger satisfies
// Info, Error and Warn, but its With returns *slog.Logger rather than Logger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter adapts l. A nil logger falls back to slog.Default().
func NewSlogAdapter(l *slog.Logger) *SlogAdapter {
	if l == nil {
		l = slog.Default()
	}
	return &SlogAdapter{logger: l}
}

func (a *SlogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *SlogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *SlogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *SlogAdapter) With(args ...any) Logger {
	return &SlogAdapter{logger: a.logger.With(args...)}
}

var _ Logger = (*SlogAdapter)(nil)
