package mock

import (
	"context"
	"sync"

	"github.com/zette-dev/heyjamie/internal/executor"
	"github.com/zette-dev/heyjamie/internal/session"
)

// Runner is a test double that returns canned responses.
type Runner struct {
	mu        sync.Mutex
	requests  []executor.Request
	cancelled []string

	Handler  func(ctx context.Context, req executor.Request) (string, error)
	Report   string
	Sessions map[string]session.StatusInfo
}

func New() *Runner {
	return &Runner{}
}

func (r *Runner) Name() string { return "mock" }

func (r *Runner) Run(ctx context.Context, req executor.Request) (string, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	if r.Handler != nil {
		return r.Handler(ctx, req)
	}
	return "mock response to: " + req.Prompt, nil
}

func (r *Runner) MCPTest(_ context.Context) (string, error) {
	if r.Report == "" {
		return "{}", nil
	}
	return r.Report, nil
}

func (r *Runner) Cancel(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, sessionID)
	return r.Sessions[sessionID].Active
}

func (r *Runner) Status(sessionID string) session.StatusInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Sessions[sessionID]
}

// Requests returns the requests seen by Run.
func (r *Runner) Requests() []executor.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]executor.Request(nil), r.requests...)
}

// Cancelled returns the session ids passed to Cancel.
func (r *Runner) Cancelled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cancelled...)
}

var _ executor.Runner = (*Runner)(nil)
