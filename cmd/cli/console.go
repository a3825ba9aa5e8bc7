package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/OnslaughtSnail/helmsman/kernel/agent"
	"github.com/OnslaughtSnail/helmsman/kernel/steering"
	"github.com/OnslaughtSnail/helmsman/kernel/tool"
)

const (
	interruptExitWindow = 2 * time.Second
	turnSettleWindow    = 200 * time.Millisecond
)

type cliConsole struct {
	baseCtx   context.Context
	session   *agent.Session
	workspace workspaceContext
	index     *sessionIndex
	registry  *tool.Registry

	modelAlias string
	version    string

	editor   lineEditor
	out      io.Writer
	render   *renderer
	commands map[string]slashCommand

	responses <-chan agent.Response
	unsub     func()

	runMu     sync.Mutex
	runActive bool

	interruptMu     sync.Mutex
	lastInterruptAt time.Time
}

type slashCommand struct {
	Usage       string
	Description string
	Handle      func(*cliConsole, []string) (bool, error)
}

type cliConsoleConfig struct {
	BaseContext context.Context
	Session     *agent.Session
	Workspace   workspaceContext
	Index       *sessionIndex
	Registry    *tool.Registry
	ModelAlias  string
	Version     string
	HistoryFile string
	Renderer    *renderer
}

func newCLIConsole(cfg cliConsoleConfig) (*cliConsole, error) {
	commands := []string{"help", "version", "exit", "status", "sessions", "tools", "pause", "resume"}
	editor, err := newLineEditor(lineEditorConfig{
		HistoryFile: cfg.HistoryFile,
		Commands:    commands,
	})
	if err != nil {
		return nil, err
	}
	var out io.Writer = os.Stdout
	if editor != nil {
		out = editor.Output()
	}
	responses, unsub, err := cfg.Session.SubscribeResponses()
	if err != nil {
		_ = editor.Close()
		return nil, err
	}
	console := &cliConsole{
		baseCtx:    cfg.BaseContext,
		session:    cfg.Session,
		workspace:  cfg.Workspace,
		index:      cfg.Index,
		registry:   cfg.Registry,
		modelAlias: cfg.ModelAlias,
		version:    strings.TrimSpace(cfg.Version),
		editor:     editor,
		out:        out,
		render:     cfg.Renderer,
		responses:  responses,
		unsub:      unsub,
	}
	console.commands = map[string]slashCommand{
		"help":     {Usage: "/help", Description: "show command help", Handle: handleHelp},
		"version":  {Usage: "/version", Description: "show version info", Handle: handleVersion},
		"exit":     {Usage: "/exit", Description: "quit the console", Handle: handleExit},
		"status":   {Usage: "/status", Description: "show session status", Handle: handleStatus},
		"sessions": {Usage: "/sessions", Description: "list workspace sessions", Handle: handleSessionsCmd},
		"tools":    {Usage: "/tools", Description: "list registered tools", Handle: handleTools},
		"pause":    {Usage: "/pause", Description: "pause input processing", Handle: handlePause},
		"resume":   {Usage: "/resume", Description: "resume input processing", Handle: handleResume},
	}
	return console, nil
}

func (c *cliConsole) loop() error {
	c.printf("Interactive mode. /help lists commands.\n")
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	stopSignals := make(chan struct{})
	go c.handleInterruptSignals(sigCh, stopSignals)
	defer func() {
		close(stopSignals)
		signal.Stop(sigCh)
		c.unsub()
		if c.editor != nil {
			_ = c.editor.Close()
		}
	}()
	for {
		select {
		case <-c.session.Done():
			return c.sessionExitError()
		default:
		}
		line, err := c.editor.ReadLine("> ")
		if err != nil {
			if errors.Is(err, errInputInterrupt) {
				if c.registerInterruptAndShouldExit() {
					c.printf("\n")
					return nil
				}
				c.printf("(press Ctrl+C again to exit)\n")
				continue
			}
			if errors.Is(err, errInputEOF) {
				c.printf("\n")
				return nil
			}
			return err
		}
		if line == "" {
			c.resetInterruptWindow()
			continue
		}
		c.resetInterruptWindow()
		if strings.HasPrefix(line, "/") {
			exitNow, err := c.handleSlash(line)
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
			if exitNow {
				return nil
			}
			continue
		}
		if err := c.runPrompt(line); err != nil {
			if errors.Is(err, errSessionPoisoned) {
				return err
			}
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

// handleInterruptSignals forwards Ctrl+C to the running turn. At the
// prompt readline already reports the keypress via errInputInterrupt.
func (c *cliConsole) handleInterruptSignals(sigCh <-chan os.Signal, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-sigCh:
			if !c.isRunActive() {
				continue
			}
			if err := c.session.SendInterrupt("user requested"); err != nil {
				fmt.Fprintf(c.out, "warn: interrupt not delivered: %v\n", err)
			}
		}
	}
}

func (c *cliConsole) handleSlash(line string) (bool, error) {
	parts := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(parts) == 0 {
		return false, nil
	}
	cmd := strings.ToLower(parts[0])
	handler, ok := c.commands[cmd]
	if !ok {
		return false, fmt.Errorf("unknown command %q, use /help", cmd)
	}
	return handler.Handle(c, parts[1:])
}

// runPrompt sends one user turn and pumps responses until the turn
// settles back at the input prompt.
func (c *cliConsole) runPrompt(input string) error {
	c.drainStale()
	if err := c.session.SendUserInput(input); err != nil {
		return c.wrapSendError(err)
	}
	if c.index != nil {
		if err := c.index.TouchTurn(c.workspace, c.session.ID(), c.modelAlias, input, time.Now()); err != nil {
			fmt.Fprintf(c.out, "warn: session index update failed: %v\n", err)
		}
	}
	c.setRunActive(true)
	defer c.setRunActive(false)

	for {
		select {
		case <-c.session.Done():
			return c.sessionExitError()
		case resp, ok := <-c.responses:
			if !ok {
				return c.sessionExitError()
			}
			done, err := c.handleTurnResponse(resp)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// handleTurnResponse renders one response and reports whether the turn
// is over. A bare waiting-for-input phase update is ambiguous: the loop
// also publishes it right before asking for tool confirmation, so it
// only counts as turn end when nothing follows within the settle window.
func (c *cliConsole) handleTurnResponse(resp agent.Response) (bool, error) {
	c.render.Handle(resp)
	switch resp.Kind {
	case agent.ResponseCompleted:
		return true, nil
	case agent.ResponseError:
		return true, errSessionPoisoned
	case agent.ResponseStatusUpdate:
		if strings.HasPrefix(resp.Message, "confirmation required for tool ") {
			return false, c.promptToolConfirmation(resp.Message)
		}
		if strings.Contains(resp.Message, "interrupted") {
			return true, nil
		}
		if resp.Message == "" && resp.Status.Phase == agent.PhaseWaitingForInput {
			return c.settleOrContinue()
		}
	}
	return false, nil
}

// settleOrContinue peeks for a follow-up response. Silence means the
// turn really is back at the prompt.
func (c *cliConsole) settleOrContinue() (bool, error) {
	timer := time.NewTimer(turnSettleWindow)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true, nil
	case <-c.session.Done():
		return true, c.sessionExitError()
	case resp, ok := <-c.responses:
		if !ok {
			return true, c.sessionExitError()
		}
		return c.handleTurnResponse(resp)
	}
}

func (c *cliConsole) promptToolConfirmation(request string) error {
	line, err := c.editor.ReadLine(fmt.Sprintf("%s, approve? [y/N] ", request))
	approved := false
	if err == nil {
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			approved = true
		}
	}
	cmd := steering.CommandDenyTool
	if approved {
		cmd = steering.CommandConfirmTool
	}
	if sendErr := c.session.SendSystemControl(cmd, nil); sendErr != nil {
		return c.wrapSendError(sendErr)
	}
	return nil
}

// drainStale discards responses left over from a previous turn.
func (c *cliConsole) drainStale() {
	for {
		select {
		case resp, ok := <-c.responses:
			if !ok {
				return
			}
			// Keep surfacing errors even between turns.
			if resp.Kind == agent.ResponseError {
				c.render.Handle(resp)
			}
		default:
			return
		}
	}
}

func (c *cliConsole) sessionExitError() error {
	if c.session.Status().Phase == agent.PhaseError {
		fmt.Fprintf(c.out, "error: %s\n", c.session.Status().Message)
		return errSessionPoisoned
	}
	return nil
}

func (c *cliConsole) wrapSendError(err error) error {
	if c.session.Status().Phase == agent.PhaseError {
		return errSessionPoisoned
	}
	return err
}

func (c *cliConsole) setRunActive(active bool) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.runActive = active
}

func (c *cliConsole) isRunActive() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.runActive
}

func (c *cliConsole) registerInterruptAndShouldExit() bool {
	c.interruptMu.Lock()
	defer c.interruptMu.Unlock()
	now := time.Now()
	shouldExit := !c.lastInterruptAt.IsZero() && now.Sub(c.lastInterruptAt) <= interruptExitWindow
	c.lastInterruptAt = now
	return shouldExit
}

func (c *cliConsole) resetInterruptWindow() {
	c.interruptMu.Lock()
	defer c.interruptMu.Unlock()
	c.lastInterruptAt = time.Time{}
}

func (c *cliConsole) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func handleHelp(c *cliConsole, args []string) (bool, error) {
	_ = args
	c.printf("Available commands:\n")
	order := []string{"help", "version", "status", "sessions", "tools", "pause", "resume", "exit"}
	for _, name := range order {
		cmd := c.commands[name]
		c.printf("  %-12s %s\n", cmd.Usage, cmd.Description)
	}
	return false, nil
}

func handleVersion(c *cliConsole, args []string) (bool, error) {
	_ = args
	c.printf("%s %s\n", appName, c.version)
	return false, nil
}

func handleExit(c *cliConsole, args []string) (bool, error) {
	_ = args
	return true, nil
}

func handleStatus(c *cliConsole, args []string) (bool, error) {
	_ = args
	st := c.session.Status()
	c.printf("session:   %s\n", c.session.ID())
	c.printf("model:     %s\n", c.modelAlias)
	c.printf("workspace: %s\n", c.workspace.CWD)
	c.printf("phase:     %s\n", st.String())
	return false, nil
}

func handleSessionsCmd(c *cliConsole, args []string) (bool, error) {
	_ = args
	if c.index == nil {
		c.printf("session index unavailable\n")
		return false, nil
	}
	records, err := c.index.ListWorkspaceSessions(c.workspace.Key, 20)
	if err != nil {
		return false, err
	}
	printSessionRecords(c.out, records)
	return false, nil
}

func handleTools(c *cliConsole, args []string) (bool, error) {
	_ = args
	if c.registry == nil {
		c.printf("no tools registered\n")
		return false, nil
	}
	for _, decl := range c.registry.Declarations() {
		c.printf("  %-8s %s [%s]\n", decl.Name, decl.Description, c.registry.Permission(decl.Name))
	}
	return false, nil
}

func handlePause(c *cliConsole, args []string) (bool, error) {
	_ = args
	return false, c.session.SendSystemControl(steering.CommandPause, nil)
}

func handleResume(c *cliConsole, args []string) (bool, error) {
	_ = args
	return false, c.session.SendSystemControl(steering.CommandResume, nil)
}

func printSessionRecords(out io.Writer, records []sessionIndexRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "no sessions recorded for this workspace")
		return
	}
	for _, rec := range records {
		last := rec.LastUserInput
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(out, "%s  turns=%d  last=%s  %q\n",
			rec.SessionID, rec.TurnCount, rec.LastActiveAt.Format(time.RFC3339), last)
	}
}
