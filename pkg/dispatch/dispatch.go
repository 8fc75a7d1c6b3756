// Package dispatch is the command surface UIs use to talk to the mapping
// cache. Every failure is turned into an unsuccessful Response; nothing
// escapes Handle.
package dispatch

import (
	"context"
	"fmt"

	"github.com/kernel/boardcol/pkg/board"
	"github.com/kernel/boardcol/pkg/cache"
	"github.com/kernel/boardcol/pkg/credentials"
	"github.com/pterm/pterm"
)

const (
	ActionGetClientMapping   = "getClientMapping"
	ActionClearCache         = "clearCache"
	ActionSaveAPICredentials = "saveApiCredentials"
	ActionTestAPI            = "testApi"
)

// Service is the part of cache.Service the dispatcher drives.
type Service interface {
	Get(ctx context.Context) (cache.Result, error)
	Clear(ctx context.Context) error
	SetCredentials(ctx context.Context, apiKey, apiToken string) error
	Credentials(ctx context.Context) (credentials.Credentials, error)
}

// Prober issues diagnostic requests against the API.
type Prober interface {
	Probe(ctx context.Context, creds credentials.Credentials, endpoint string) (board.ProbeResult, error)
}

type Request struct {
	Action   string `json:"action"`
	APIKey   string `json:"apiKey,omitempty"`
	APIToken string `json:"apiToken,omitempty"`
}

type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CredentialPresence says which secrets are configured without revealing them.
type CredentialPresence struct {
	HasAPIKey   bool `json:"hasApiKey"`
	HasAPIToken bool `json:"hasApiToken"`
}

type TestAPIResult struct {
	Credentials CredentialPresence `json:"credentials"`
	Clients     board.ProbeResult  `json:"clients"`
	Projects    board.ProbeResult  `json:"projects"`
}

type Dispatcher struct {
	svc    Service
	prober Prober
	logger *pterm.Logger
}

func New(svc Service, prober Prober, logger *pterm.Logger) *Dispatcher {
	if logger == nil {
		logger = &pterm.DefaultLogger
	}
	return &Dispatcher{svc: svc, prober: prober, logger: logger}
}

// Handle runs one command.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command panicked", d.logger.Args("action", req.Action, "panic", r))
			resp = Response{Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	data, err := d.run(ctx, req)
	if err != nil {
		d.logger.Warn("command failed", d.logger.Args("action", req.Action, "error", err))
		return Response{Error: err.Error()}
	}
	return Response{Success: true, Data: data}
}

func (d *Dispatcher) run(ctx context.Context, req Request) (any, error) {
	switch req.Action {
	case ActionGetClientMapping:
		res, err := d.svc.Get(ctx)
		if err != nil {
			return nil, err
		}
		return res.Mapping, nil

	case ActionClearCache:
		return nil, d.svc.Clear(ctx)

	case ActionSaveAPICredentials:
		return nil, d.svc.SetCredentials(ctx, req.APIKey, req.APIToken)

	case ActionTestAPI:
		return d.testAPI(ctx)
	}
	return nil, fmt.Errorf("unknown action %q", req.Action)
}

func (d *Dispatcher) testAPI(ctx context.Context) (TestAPIResult, error) {
	creds, err := d.svc.Credentials(ctx)
	if err != nil {
		return TestAPIResult{}, err
	}
	res := TestAPIResult{
		Credentials: CredentialPresence{HasAPIKey: creds.APIKey != "", HasAPIToken: creds.APIToken != ""},
	}
	if res.Clients, err = d.prober.Probe(ctx, creds, "clients"); err != nil {
		return TestAPIResult{}, err
	}
	if res.Projects, err = d.prober.Probe(ctx, creds, "projects"); err != nil {
		return TestAPIResult{}, err
	}
	return res, nil
}
