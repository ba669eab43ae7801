// Package permission gates capture on the OS screen-recording authorization.
package permission

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/bryanchriswhite/ScreenBridge/internal/logger"
)

// Status is the process's screen-recording authorization state
type Status string

const (
	StatusAuthorized   Status = "authorized"
	StatusDenied       Status = "denied"
	StatusUndetermined Status = "undetermined"
)

// ErrDenied indicates the process may not read screen contents.
var ErrDenied = errors.New("screen recording permission denied")

// Authorizer queries and requests the OS authorization state
type Authorizer interface {
	Name() string
	// Status reads the current state without user-visible side effects.
	Status(ctx context.Context) (Status, error)
	// Request may show the OS permission prompt and returns the resulting state.
	Request(ctx context.Context) (Status, error)
}

// Gate checks authorization before every capture. It holds no cached state.
type Gate struct {
	authorizer Authorizer
	prompt     bool
}

// NewGate creates a gate. When prompt is false an undetermined state is denied
// instead of triggering the OS prompt.
func NewGate(authorizer Authorizer, prompt bool) *Gate {
	return &Gate{authorizer: authorizer, prompt: prompt}
}

// Check returns nil when capture may proceed and ErrDenied otherwise.
func (g *Gate) Check(ctx context.Context) error {
	log := logger.WithComponent("permission")

	status, err := g.authorizer.Status(ctx)
	if err != nil {
		log.Warn().Err(err).Str("authorizer", g.authorizer.Name()).Msg("Authorization query failed")
		return ErrDenied
	}

	if status == StatusUndetermined {
		if !g.prompt {
			log.Debug().Msg("Authorization undetermined and prompting disabled")
			return ErrDenied
		}
		log.Info().Str("authorizer", g.authorizer.Name()).Msg("Authorization undetermined, requesting access")
		status, err = g.authorizer.Request(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Authorization request failed")
			return ErrDenied
		}
		// Still undetermined means the platform will ask at capture time.
		if status == StatusUndetermined {
			return nil
		}
	}

	if status != StatusAuthorized {
		log.Debug().Str("status", string(status)).Msg("Screen recording not authorized")
		return ErrDenied
	}
	return nil
}

// StaticAuthorizer always reports the same state. Platforms without a
// per-process screen-recording permission use StatusAuthorized.
type StaticAuthorizer struct {
	Label string
	State Status
}

func (s StaticAuthorizer) Name() string {
	if s.Label == "" {
		return "static"
	}
	return s.Label
}

func (s StaticAuthorizer) Status(context.Context) (Status, error)  { return s.State, nil }
func (s StaticAuthorizer) Request(context.Context) (Status, error) { return s.State, nil }

// EnvOverride is the environment variable consulted by EnvAuthorizer.
const EnvOverride = "SCREENBRIDGE_SCREEN_RECORDING"

// LookupEnvFunc exposes environment probing for testability.
type LookupEnvFunc func(string) (string, bool)

// EnvAuthorizer lets the environment pin the authorization state, falling
// back to the platform authorizer when the variable is unset or unrecognised.
type EnvAuthorizer struct {
	lookup   LookupEnvFunc
	fallback Authorizer
}

// NewEnvAuthorizer wraps fallback. A nil lookup uses os.LookupEnv.
func NewEnvAuthorizer(lookup LookupEnvFunc, fallback Authorizer) *EnvAuthorizer {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &EnvAuthorizer{lookup: lookup, fallback: fallback}
}

func (e *EnvAuthorizer) Name() string {
	return "env(" + e.fallback.Name() + ")"
}

func (e *EnvAuthorizer) override() (Status, bool) {
	value, ok := e.lookup(EnvOverride)
	if !ok {
		return "", false
	}
	return interpretFlag(value)
}

func (e *EnvAuthorizer) Status(ctx context.Context) (Status, error) {
	if s, ok := e.override(); ok {
		return s, nil
	}
	return e.fallback.Status(ctx)
}

func (e *EnvAuthorizer) Request(ctx context.Context) (Status, error) {
	if s, ok := e.override(); ok {
		return s, nil
	}
	return e.fallback.Request(ctx)
}

func interpretFlag(value string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "granted", "allow", "allowed", "yes", "true":
		return StatusAuthorized, true
	case "denied", "no", "false", "blocked":
		return StatusDenied, true
	case "prompt", "ask":
		return StatusUndetermined, true
	default:
		return "", false
	}
}

// Platform returns the authorizer for the running OS and capture backend.
func Platform(backend string) Authorizer {
	return NewEnvAuthorizer(nil, platformAuthorizer(backend))
}
