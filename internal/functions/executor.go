package functions

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/wicara/domain/entities"
	"github.com/satriahrh/wicara/domain/repositories"
)

const (
	// processTimeout bounds every external process a tool call waits on.
	// Applications started by launch_application are detached and unbounded.
	processTimeout = 30 * time.Second

	maxStdout      = 5000
	maxStderr      = 1000
	maxFileBytes   = 10 << 20
	readPreview    = 1000
	maxListEntries = 200
	maxSearchHits  = 100
)

// ExecutorConfig carries the policy sets from configuration.
type ExecutorConfig struct {
	Blocked             []string
	RequireConfirmation []string
}

// Executor validates, authorizes and performs tool calls. Three gates run in
// order: policy (blocked/unknown), validation (schema plus per-function
// safety) and confirmation for side-effectful calls.
type Executor struct {
	catalog   *Catalog
	clk       repositories.Clock
	confirmer repositories.Confirmer
	logger    *zap.Logger

	blocked         map[string]bool
	confirmRequired map[string]bool
	box             sandbox
	startedAt       time.Time

	mu      sync.Mutex
	pending map[string]repositories.ConfirmRequest

	// runCommand is swappable for tests.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error)
}

// NewExecutor wires the executor with its sandbox roots: user home, temp
// directory and current working directory.
func NewExecutor(catalog *Catalog, cfg ExecutorConfig, clk repositories.Clock, confirmer repositories.Confirmer, logger *zap.Logger) *Executor {
	roots := make([]string, 0, 3)
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, home)
	}
	roots = append(roots, os.TempDir())
	if wd, err := os.Getwd(); err == nil {
		roots = append(roots, wd)
	}

	e := &Executor{
		catalog:         catalog,
		clk:             clk,
		confirmer:       confirmer,
		logger:          logger,
		blocked:         toSet(cfg.Blocked),
		confirmRequired: toSet(cfg.RequireConfirmation),
		box:             newSandbox(roots),
		startedAt:       clk.Now(),
		pending:         make(map[string]repositories.ConfirmRequest),
		runCommand:      runHostCommand,
	}
	return e
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// SetConfirmer registers the external confirmation channel.
func (e *Executor) SetConfirmer(c repositories.Confirmer) {
	e.mu.Lock()
	e.confirmer = c
	e.mu.Unlock()
}

// Execute runs one tool call through the three gates and performs the side
// effect. The returned map is the tool-result payload.
func (e *Executor) Execute(ctx context.Context, call entities.ToolCall) (map[string]any, error) {
	started := e.clk.Now()

	// Policy gate.
	if e.blocked[call.Name] {
		return nil, execErrorf(CodeBlocked, "function %q is blocked by policy", call.Name)
	}
	fn, ok := e.catalog.Get(call.Name)
	if !ok {
		return nil, execErrorf(CodeUnknownFunction, "function %q is not in the catalog", call.Name)
	}

	// Validation gate: schema first, then the per-function safety checks.
	// Both run before confirmation so a denied path, URL, command or app
	// never reaches the user as a confirmation prompt.
	if err := e.catalog.ValidateArgs(call.Name, call.Arguments); err != nil {
		return nil, execErrorf(CodeInvalidArguments, "arguments rejected: %v", err)
	}
	if err := e.checkSafety(call); err != nil {
		return nil, err
	}

	// Confirmation gate.
	if e.confirmRequired[call.Name] {
		if err := e.confirm(ctx, fn, call); err != nil {
			return nil, err
		}
	}

	result, err := e.dispatch(ctx, call)
	elapsed := e.clk.Now().Sub(started)

	fields := []zap.Field{
		zap.String("function", call.Name),
		zap.String("callID", call.CallID),
		zap.Any("arguments", sanitizeArgs(call.Arguments)),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		e.logger.Warn("Function call failed", append(fields, zap.Error(err))...)
		return nil, err
	}
	e.logger.Info("Function call executed", fields...)
	return result, nil
}

// confirm asks the external channel to approve a side-effectful call. With
// no channel registered the call is denied. Each confirmation id resolves at
// most once.
func (e *Executor) confirm(ctx context.Context, fn Function, call entities.ToolCall) error {
	e.mu.Lock()
	confirmer := e.confirmer
	e.mu.Unlock()
	if confirmer == nil {
		return execErrorf(CodeNotApproved, "no confirmation channel registered")
	}

	req := repositories.ConfirmRequest{
		ID:          uuid.NewString(),
		Function:    call.Name,
		Arguments:   call.Arguments,
		Description: describeCall(fn, call),
	}

	e.mu.Lock()
	e.pending[req.ID] = req
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, req.ID)
		e.mu.Unlock()
	}()

	approved, err := confirmer.Confirm(ctx, req)
	if err != nil {
		return execErrorf(CodeNotApproved, "confirmation failed: %v", err)
	}
	if !approved {
		return execErrorf(CodeNotApproved, "user declined %s", call.Name)
	}
	return nil
}

// PendingConfirmations reports in-flight confirmation requests.
func (e *Executor) PendingConfirmations() []repositories.ConfirmRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]repositories.ConfirmRequest, 0, len(e.pending))
	for _, req := range e.pending {
		out = append(out, req)
	}
	return out
}

func describeCall(fn Function, call entities.ToolCall) string {
	switch call.Name {
	case "delete_file":
		return fmt.Sprintf("Delete file %v", call.Arguments["path"])
	case "move_file":
		return fmt.Sprintf("Move %v to %v", call.Arguments["source"], call.Arguments["destination"])
	default:
		return fmt.Sprintf("%s: %s", call.Name, fn.Description)
	}
}

// sanitizeArgs trims long values so logs never carry file payloads.
func sanitizeArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && len(s) > 120 {
			out[k] = fmt.Sprintf("%s... (%d bytes)", s[:120], len(s))
			continue
		}
		out[k] = v
	}
	return out
}

// checkSafety applies the per-function safety policy as part of the
// validation gate. Handlers re-resolve the same inputs when they run; the
// checks are deterministic, so both passes agree.
func (e *Executor) checkSafety(call entities.ToolCall) error {
	switch call.Name {
	case "open_file", "read_file", "delete_file", "list_files", "search_files":
		if _, denied := e.box.Resolve(stringArg(call.Arguments, "path")); denied != nil {
			return denied
		}
	case "create_file":
		if _, denied := e.box.Resolve(stringArg(call.Arguments, "path")); denied != nil {
			return denied
		}
		if len(stringArg(call.Arguments, "content")) > maxFileBytes {
			return execErrorf(CodeInvalidArguments, "content exceeds %d bytes", maxFileBytes)
		}
	case "move_file":
		if _, denied := e.box.Resolve(stringArg(call.Arguments, "source")); denied != nil {
			return denied
		}
		if _, denied := e.box.Resolve(stringArg(call.Arguments, "destination")); denied != nil {
			return denied
		}
	case "open_url":
		if _, denied := checkURL(stringArg(call.Arguments, "url")); denied != nil {
			return denied
		}
	case "run_command":
		if denied := checkCommand(stringArg(call.Arguments, "command")); denied != nil {
			return denied
		}
	case "launch_application":
		if _, denied := resolveApp(stringArg(call.Arguments, "app_name")); denied != nil {
			return denied
		}
	}
	return nil
}

func (e *Executor) dispatch(ctx context.Context, call entities.ToolCall) (map[string]any, error) {
	switch call.Name {
	case "launch_application":
		return e.launchApplication(ctx, call.Arguments)
	case "open_file":
		return e.openFile(ctx, call.Arguments)
	case "open_url":
		return e.openURL(ctx, call.Arguments)
	case "run_command":
		return e.runShellQuery(ctx, call.Arguments)
	case "get_system_info":
		return e.systemInfo()
	case "get_datetime":
		return e.datetime()
	case "list_files":
		return e.listFiles(call.Arguments)
	case "create_file":
		return e.createFile(call.Arguments)
	case "read_file":
		return e.readFile(call.Arguments)
	case "delete_file":
		return e.deleteFile(call.Arguments)
	case "move_file":
		return e.moveFile(call.Arguments)
	case "search_files":
		return e.searchFiles(call.Arguments)
	case "manage_window":
		return e.manageWindow(ctx, call.Arguments)
	case "set_volume":
		return e.setVolume(ctx, call.Arguments)
	}
	return nil, execErrorf(CodeUnknownFunction, "no handler for %q", call.Name)
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
