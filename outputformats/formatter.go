package outputformats

import (
	"github.com/jnesss/diagview/session"
	"github.com/jnesss/diagview/types"
)

// SessionFormatter defines the interface for the session log formats
type SessionFormatter interface {
	Initialize() error
	Close() error

	FormatSession(s *session.Session) error
	FormatAlert(alert *types.Alert) error
}

// Renderer produces the console summary and the SQL statements of a closing session.
type Renderer struct {
	Dialect Dialect
	Privacy bool
}

func NewRenderer(dialect Dialect, privacy bool) *Renderer {
	return &Renderer{Dialect: dialect, Privacy: privacy}
}

func (r *Renderer) Summary(s *session.Session) string {
	return SessionSummary(s, r.Privacy)
}

func (r *Renderer) Statements(s *session.Session) []string {
	return SessionStatements(s, r.Dialect)
}
