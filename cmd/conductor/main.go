// Package main is the entry point for the conductor CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	conductor "github.com/conductor-ai/conductor"
	"github.com/conductor-ai/conductor/config"
	"github.com/conductor-ai/conductor/domain"
	"github.com/conductor-ai/conductor/eventing"
	"github.com/conductor-ai/conductor/executor"
	"github.com/conductor-ai/conductor/policy"
	"github.com/conductor-ai/conductor/queue"
	"github.com/conductor-ai/conductor/registry"
	"github.com/conductor-ai/conductor/runstore"
)

const version = "0.1.0"

// app carries the shared environment into command Run methods.
type app struct {
	cfg *config.Config
}

func main() {
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("conductor"),
		kong.Description("Policy-gated plan execution engine."),
		kong.Vars{"version": version},
	)
	if err := ctx.Run(&app{cfg: config.Load()}); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
}

// planFile is the on-disk run request: the classified intent plus the
// finalized plan.
type planFile struct {
	Intent *domain.Intent    `json:"intent,omitempty"`
	Plan   []domain.PlanStep `json:"plan"`
	Prompt string            `json:"prompt,omitempty"`
}

func loadPlanFile(path string) (*planFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	var pf planFile
	if err := json.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse plan file: %w", err)
	}
	return &pf, nil
}

// buildRuntime assembles a runtime from the environment config. With no
// policy file every registered tool is allowed.
func buildRuntime(ctx context.Context, cfg *config.Config, policyPath string) (*conductor.Runtime, func(), error) {
	reg := registry.New(registry.Options{
		FailureThreshold: cfg.BreakerThreshold,
		ResetWindow:      cfg.BreakerResetWindow,
		CacheTTL:         cfg.IdempotencyTTL,
	})
	registerBuiltins(reg)

	store, err := runstore.NewSQLite(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { store.Close() }

	var sink eventing.Sink
	var submitter queue.Submitter
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		prev := cleanup
		cleanup = func() { nc.Close(); prev() }
		sink = eventing.NewNATS(nc, cfg.NATSSubjectPrefix)
		submitter = queue.NewNATS(nc, cfg.NATSSubjectPrefix, cfg.QueueTimeout)
	}

	if policyPath == "" {
		policyPath = cfg.PolicyPath
	}
	var pol domain.TeamPolicy
	if policyPath != "" {
		pol, err = policy.LoadTeamPolicy(policyPath)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	} else {
		pol = domain.TeamPolicy{
			Allow: domain.Allowlist{Tools: reg.Names()},
			Risk:  domain.RiskRules{DefaultMode: domain.ModePlan, ConfidenceThreshold: 0.7},
		}
	}

	rt, err := conductor.NewRuntime(ctx, conductor.RuntimeOptions{
		Registry: reg,
		Policy:   pol,
		Sink:     sink,
		Queue:    submitter,
		Store:    store,
		Config:   cfg,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return rt, cleanup, nil
}

// registerBuiltins installs the zero-side-effect tools every deployment
// gets. Real connectors are registered by the embedding process.
func registerBuiltins(reg *registry.Registry) {
	reg.MustRegister(registry.Tool{
		Name:        executor.ToolRespond,
		Description: "Reply to the user with text.",
		InputSchema: registry.Schema{
			Required: []string{"text"},
			Fields:   map[string]string{"text": "string"},
		},
		Risk: domain.RiskLow,
		Call: func(ctx context.Context, args map[string]any, rctx domain.RunContext) (map[string]any, error) {
			text, _ := args["text"].(string)
			fmt.Println(text)
			return map[string]any{"text": text}, nil
		},
	})
}

func printState(state *domain.RunState) error {
	out := map[string]any{
		"run_id":  state.Ctx.RunID,
		"summary": state.Output.Summary,
		"commits": state.Output.Commits,
	}
	if state.Paused() {
		out["paused"] = state.Halt
	}
	if state.Error != "" {
		out["error"] = state.Error
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func toAnswers(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Run starts a run from the plan file.
func (c *RunCmd) Run(a *app) error {
	ctx := context.Background()
	rt, cleanup, err := buildRuntime(ctx, a.cfg, c.Policy)
	if err != nil {
		return err
	}
	defer cleanup()

	pf, err := loadPlanFile(c.Plan)
	if err != nil {
		return err
	}

	req := conductor.StartRequest{
		Ctx:    domain.RunContext{UserID: c.User, TeamID: c.Team},
		Input:  domain.Input{Prompt: pf.Prompt},
		Mode:   domain.Mode(c.Mode),
		Intent: pf.Intent,
		Plan:   pf.Plan,
	}
	if answers := toAnswers(c.Answers); answers != nil {
		if req.Intent == nil {
			req.Intent = &domain.Intent{}
		}
		if req.Intent.Extracted == nil {
			req.Intent.Extracted = answers
		} else {
			for k, v := range answers {
				req.Intent.Extracted[k] = v
			}
		}
	}

	state, err := rt.Start(ctx, req)
	if err != nil {
		return err
	}
	return printState(state)
}

// Run resumes a paused run.
func (c *ResumeCmd) Run(a *app) error {
	ctx := context.Background()
	rt, cleanup, err := buildRuntime(ctx, a.cfg, c.Policy)
	if err != nil {
		return err
	}
	defer cleanup()

	state, err := rt.Resume(ctx, c.RunID, domain.ResumeInput{
		ApprovedSteps:  c.Approve,
		ConfirmedSteps: c.Confirm,
		Answers:        toAnswers(c.Answers),
	})
	if err != nil {
		return err
	}
	return printState(state)
}

// Run validates the plan file's structure.
func (c *ValidateCmd) Run(a *app) error {
	pf, err := loadPlanFile(c.Plan)
	if err != nil {
		return err
	}
	if err := executor.ValidatePlan(pf.Plan); err != nil {
		return err
	}
	fmt.Printf("plan ok: %d step(s)\n", len(pf.Plan))
	return nil
}

// Run serves queued tool calls until interrupted.
func (c *WorkerCmd) Run(a *app) error {
	if a.cfg.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required for worker mode")
	}
	nc, err := nats.Connect(a.cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	reg := registry.New(registry.Options{
		FailureThreshold: a.cfg.BreakerThreshold,
		ResetWindow:      a.cfg.BreakerResetWindow,
		CacheTTL:         a.cfg.IdempotencyTTL,
	})
	registerBuiltins(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := queue.NewWorker(nc, reg, a.cfg.NATSSubjectPrefix)
	if err := worker.Serve(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// Run prints the version.
func (c *VersionCmd) Run(a *app) error {
	fmt.Printf("conductor version %s\n", version)
	return nil
}
