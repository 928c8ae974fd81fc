// Package main defines the conductor CLI structure using kong.
package main

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Start a run from a plan file"`
	Resume   ResumeCmd   `cmd:"" help:"Resume a paused run"`
	Validate ValidateCmd `cmd:"" help:"Validate a plan file"`
	Worker   WorkerCmd   `cmd:"" help:"Serve queued tool calls from NATS"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// RunCmd starts a run from a plan file.
type RunCmd struct {
	Plan    string            `arg:"" help:"Plan file path (JSON)"`
	Policy  string            `help:"Team policy file path (YAML)"`
	Mode    string            `help:"Run mode: PLAN or AUTO (default from policy)"`
	User    string            `default:"cli" help:"User id for the run context"`
	Team    string            `help:"Team id for the run context"`
	Answers map[string]string `short:"a" help:"Answer key=value (repeatable)"`
}

// ResumeCmd resumes a paused run.
type ResumeCmd struct {
	RunID   string            `arg:"" help:"Run id to resume"`
	Policy  string            `help:"Team policy file path (YAML)"`
	Approve []string          `help:"Step ids to approve (repeatable)"`
	Confirm []string          `help:"Step ids to confirm (repeatable)"`
	Answers map[string]string `short:"a" help:"Answer key=value (repeatable)"`
}

// ValidateCmd validates a plan file without running it.
type ValidateCmd struct {
	Plan string `arg:"" help:"Plan file path (JSON)"`
}

// WorkerCmd serves queued tool calls against the local registry.
type WorkerCmd struct{}

// VersionCmd shows version information.
type VersionCmd struct{}
