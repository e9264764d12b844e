package executor

import (
	"context"
	"encoding/json"

	"github.com/zette-dev/heyjamie/internal/session"
)

// Settings are the language-model parameters forwarded to the agent helper.
type Settings struct {
	APIKey    string `json:"apiKey" yaml:"api_key"`
	Model     string `json:"model" yaml:"model"`
	Reasoning string `json:"reasoning,omitempty" yaml:"reasoning"`
}

// Request is one agent operation.
type Request struct {
	// Session selects the cancellation scope. Empty means session.DefaultID.
	Session      string          `json:"session,omitempty"`
	Mode         string          `json:"mode,omitempty"`
	Settings     Settings        `json:"settings"`
	Instructions string          `json:"instructions,omitempty"`
	Prompt       string          `json:"prompt"`
	Context      json.RawMessage `json:"context,omitempty"`
}

// SessionID returns the request's session, defaulted.
func (r Request) SessionID() string {
	if r.Session == "" {
		return session.DefaultID
	}
	return r.Session
}

// Runner is the interface the host surfaces talk to for agent work.
type Runner interface {
	// Run executes one agent request and returns the helper's response text.
	Run(ctx context.Context, req Request) (string, error)

	// MCPTest checks connectivity to the configured MCP servers and returns
	// the helper's report.
	MCPTest(ctx context.Context) (string, error)

	// Cancel requests cancellation of the session's in-flight request and
	// reports whether one was running.
	Cancel(sessionID string) bool

	// Status reports the session's state.
	Status(sessionID string) session.StatusInfo

	// Name returns a human-readable identifier.
	Name() string
}

// Transcriber turns recorded speech into text.
type Transcriber interface {
	// Transcribe runs speech recognition over a WAV recording. An empty
	// result with a nil error means no speech was recognized.
	Transcribe(ctx context.Context, sessionID string, wav []byte) (string, error)

	// Check reports whether the recognizer is installed.
	Check() error

	// Setup runs the install script for the recognizer and its model and
	// returns the script's output.
	Setup(ctx context.Context) (string, error)
}
