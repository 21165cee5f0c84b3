package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xhad/grader/internal/types"
	"github.com/xhad/grader/pkg/logger"
	"github.com/xhad/grader/pkg/session"
)

const (
	GradingInstruction = "You are a strict but fair grader. Given student text and a rubric, " +
		"return JSON with fields: overall_score (0-100), criteria (list of {name,score,notes}), " +
		"and notes (brief and constructive). Be specific and point to evidence."

	FeedbackInstruction = "You provide constructive feedback on student writing. Respond with JSON " +
		"fields: suggestions (list of strings), sources (list of URLs or citations), " +
		"style (list of concise style improvements). Keep it practical and kind."
)

type Config struct {
	Name        string
	Instruction string
	AppName     string
	UserID      string
}

// Agent sends instruction-prefixed prompts to a Completer inside a named
// session.
type Agent struct {
	config    Config
	completer types.Completer
	sessions  session.Store
	log       logger.Logger
	now       func() time.Time
}

func New(config Config, completer types.Completer, sessions session.Store, log logger.Logger) *Agent {
	if log == nil {
		log = logger.NewNop()
	}
	return &Agent{
		config:    config,
		completer: completer,
		sessions:  sessions,
		log:       log,
		now:       time.Now,
	}
}

func (a *Agent) Name() string { return a.config.Name }

// Run completes prompt in sessionID. A session that is missing is created;
// if that fails too, the call continues under a fallback identifier.
// Only completion errors are returned.
func (a *Agent) Run(ctx context.Context, sessionID, prompt string) (string, error) {
	sid := a.resolveSession(ctx, sessionID)
	a.record(ctx, sid, "user", prompt)

	full := prompt
	if a.config.Instruction != "" {
		full = a.config.Instruction + "\n\n" + prompt
	}

	reply, err := a.completer.Complete(ctx, full)
	if err != nil {
		return "", fmt.Errorf("%s: %w", a.config.Name, err)
	}

	a.record(ctx, sid, "model", reply)
	return reply, nil
}

func (a *Agent) resolveSession(ctx context.Context, sessionID string) string {
	if a.sessions == nil {
		return a.fallbackID(sessionID)
	}

	_, err := a.sessions.Get(ctx, a.config.AppName, a.config.UserID, sessionID)
	if err == nil {
		return sessionID
	}
	if !errors.Is(err, session.ErrNotFound) {
		a.log.Warn("agent", "Session lookup failed", map[string]interface{}{
			"agent":   a.config.Name,
			"session": sessionID,
			"error":   err.Error(),
		})
	}

	_, err = a.sessions.Create(ctx, a.config.AppName, a.config.UserID, sessionID)
	if err == nil || errors.Is(err, session.ErrExists) {
		return sessionID
	}

	fallback := a.fallbackID(sessionID)
	a.log.Warn("agent", "Session create failed, using fallback", map[string]interface{}{
		"agent":    a.config.Name,
		"session":  sessionID,
		"fallback": fallback,
		"error":    err.Error(),
	})
	return fallback
}

func (a *Agent) fallbackID(sessionID string) string {
	return fmt.Sprintf("%s-fallback-%d", sessionID, a.now().UnixNano())
}

// record is best effort; a fallback session usually does not exist.
func (a *Agent) record(ctx context.Context, sessionID, role, text string) {
	if a.sessions == nil {
		return
	}
	err := a.sessions.Append(ctx, a.config.AppName, a.config.UserID, sessionID, session.Event{
		Role: role,
		Text: text,
		At:   a.now(),
	})
	if err != nil {
		a.log.Debug("agent", "Session append skipped", map[string]interface{}{
			"session": sessionID,
			"error":   err.Error(),
		})
	}
}
