package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/OnslaughtSnail/helmsman/internal/envload"
	"github.com/OnslaughtSnail/helmsman/internal/version"
	"github.com/OnslaughtSnail/helmsman/kernel/agent"
	"github.com/OnslaughtSnail/helmsman/kernel/history"
	"github.com/OnslaughtSnail/helmsman/kernel/model"
	modelproviders "github.com/OnslaughtSnail/helmsman/kernel/model/providers"
	"github.com/OnslaughtSnail/helmsman/kernel/steering"
	"github.com/OnslaughtSnail/helmsman/kernel/termout"
	"github.com/OnslaughtSnail/helmsman/kernel/tool"
)

// Exit codes follow BSD sysexits where one fits.
const (
	exitOK          = 0
	exitUsage       = 64
	exitPoisoned    = 70
	exitInterrupted = 130
)

var errSessionPoisoned = errors.New("cli: session poisoned")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := buildRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		code := exitUsage
		switch {
		case errors.Is(err, errSessionPoisoned):
			code = exitPoisoned
		case errors.Is(err, context.Canceled):
			code = exitInterrupted
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(code)
	}
}

type cliOptions struct {
	modelAlias     string
	permissionFile string
	sysOverride    string
	maxTokens      int
	stream         bool
	interactive    bool
	noMarkdown     bool
	verbose        bool
}

func buildRootCmd() *cobra.Command {
	opts := &cliOptions{}
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Terminal coding assistant",
		Long:          "An interactive terminal coding assistant with streaming model output,\nsteerable turns and confirmable tool execution.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unknown arguments: %v", args)
			}
			return runConsole(cmd.Context(), opts)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.modelAlias, "model", "m", "", "Model alias from the provider config")
	cmd.PersistentFlags().StringVar(&opts.permissionFile, "permissions", "", "Tool permission YAML file")
	cmd.PersistentFlags().StringVar(&opts.sysOverride, "system", "", "Extra system prompt override for this session")
	cmd.PersistentFlags().IntVar(&opts.maxTokens, "max-output-tokens", 0, "Max output tokens per model turn")
	cmd.PersistentFlags().BoolVar(&opts.stream, "stream", true, "Stream model output as it arrives")
	cmd.PersistentFlags().BoolVar(&opts.noMarkdown, "no-markdown", false, "Disable markdown rendering of final answers")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug output to stderr")

	cmd.AddCommand(buildChatCmd(opts), buildSessionsCmd(), buildVersionCmd())
	return cmd
}

func buildChatCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [--interactive] <prompt...>",
		Short: "Run a single prompt, or open the interactive console",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.interactive {
				if len(args) > 0 {
					return fmt.Errorf("prompt arguments and --interactive are mutually exclusive")
				}
				return runConsole(cmd.Context(), opts)
			}
			if len(args) == 0 {
				return fmt.Errorf("a prompt is required unless --interactive is set")
			}
			return runChatOnce(cmd.Context(), opts, strings.Join(args, " "))
		},
	}
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "Open the interactive console instead of a one-shot prompt")
	return cmd
}

func buildSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions for this workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd.OutOrStdout())
		},
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version.String())
		},
	}
}

// sessionSetup bundles everything a started session needs torn down.
type sessionSetup struct {
	session    *agent.Session
	registry   *tool.Registry
	workspace  workspaceContext
	index      *sessionIndex
	modelAlias string
	render     *renderer
}

func (s *sessionSetup) close(ctx context.Context) {
	if s.session != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.session.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "warn: session shutdown: %v\n", err)
		}
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warn: close session index: %v\n", err)
		}
	}
}

func setupSession(ctx context.Context, opts *cliOptions, out *os.File, withIndex bool) (*sessionSetup, error) {
	if path, err := envload.LoadNearest(); err != nil {
		fmt.Fprintf(os.Stderr, "warn: load .env: %v\n", err)
	} else if path != "" && opts.verbose {
		fmt.Fprintf(os.Stderr, "loaded %s\n", path)
	}

	configStore, err := loadOrInitAppConfig()
	if err != nil {
		return nil, err
	}
	workspace, err := resolveWorkspaceContext()
	if err != nil {
		return nil, err
	}

	factory := modelproviders.NewFactory()
	for _, providerCfg := range configStore.ProviderConfigs() {
		if registerErr := factory.Register(providerCfg); registerErr != nil {
			fmt.Fprintf(os.Stderr, "warn: skip provider %q: %v\n", providerCfg.Alias, registerErr)
		}
	}
	alias := strings.ToLower(strings.TrimSpace(opts.modelAlias))
	if alias == "" {
		alias = configStore.DefaultModel()
	}
	transport, err := factory.NewByAlias(alias)
	if err != nil {
		return nil, fmt.Errorf("cli: model %q: %w (set %s or edit the provider config)", alias, err, defaultTokenEnvVar)
	}
	if err := configStore.SetDefaultModel(alias); err != nil {
		fmt.Fprintf(os.Stderr, "warn: update default model failed: %v\n", err)
	}

	permPath := opts.permissionFile
	if permPath == "" {
		permPath = configStore.PermissionFile()
	}
	perms, err := loadToolPermissions(permPath)
	if err != nil {
		return nil, err
	}
	registry, err := buildToolRegistry(perms)
	if err != nil {
		return nil, err
	}

	var summarizer history.Summarizer
	if token := strings.TrimSpace(os.Getenv(defaultTokenEnvVar)); token != "" {
		summarizer, err = modelproviders.NewSummarizer(modelproviders.SummarizerConfig{APIKey: token})
		if err != nil {
			fmt.Fprintf(os.Stderr, "warn: summarizer unavailable: %v\n", err)
		}
	}

	logger := slog.New(slog.DiscardHandler)
	if opts.verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	render := newRenderer(out, !opts.noMarkdown && isTTY(out))
	var sink termout.Sink
	if opts.stream && configStore.StreamModel() && !render.Markdown() {
		sink = render.Sink()
	}

	session, err := agent.Start(ctx, agent.Config{
		Transport:       transport,
		Registry:        registry,
		Summarizer:      summarizer,
		Sink:            sink,
		Params:          model.GenerationParams{MaxOutputTokens: opts.maxTokens},
		Workspace:       workspace.Prompt,
		SessionOverride: opts.sysOverride,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	setup := &sessionSetup{
		session:    session,
		registry:   registry,
		workspace:  workspace,
		modelAlias: alias,
		render:     render,
	}
	if withIndex {
		indexPath, err := sessionIndexPath()
		if err != nil {
			setup.close(context.Background())
			return nil, err
		}
		index, err := newSessionIndex(indexPath)
		if err != nil {
			setup.close(context.Background())
			return nil, err
		}
		setup.index = index
		if err := index.UpsertSession(workspace, session.ID(), alias, time.Now()); err != nil {
			fmt.Fprintf(os.Stderr, "warn: record session failed: %v\n", err)
		}
	}
	return setup, nil
}

func runConsole(ctx context.Context, opts *cliOptions) error {
	setup, err := setupSession(ctx, opts, os.Stdout, true)
	if err != nil {
		return err
	}
	defer setup.close(context.Background())

	historyPath, err := historyFilePath(setup.workspace.Key)
	if err != nil {
		return err
	}
	console, err := newCLIConsole(cliConsoleConfig{
		BaseContext: ctx,
		Session:     setup.session,
		Workspace:   setup.workspace,
		Index:       setup.index,
		Registry:    setup.registry,
		ModelAlias:  setup.modelAlias,
		Version:     version.String(),
		HistoryFile: historyPath,
		Renderer:    setup.render,
	})
	if err != nil {
		return err
	}
	return console.loop()
}

func runChatOnce(ctx context.Context, opts *cliOptions, input string) error {
	setup, err := setupSession(ctx, opts, os.Stdout, false)
	if err != nil {
		return err
	}
	defer setup.close(context.Background())

	responses, unsub, err := setup.session.SubscribeResponses()
	if err != nil {
		return err
	}
	defer unsub()

	if err := setup.session.SendUserInput(input); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-setup.session.Done():
			if setup.session.Status().Phase == agent.PhaseError {
				return fmt.Errorf("%w: %s", errSessionPoisoned, setup.session.Status().Message)
			}
			return nil
		case resp, ok := <-responses:
			if !ok {
				if setup.session.Status().Phase == agent.PhaseError {
					return fmt.Errorf("%w: %s", errSessionPoisoned, setup.session.Status().Message)
				}
				return nil
			}
			setup.render.Handle(resp)
			switch resp.Kind {
			case agent.ResponseCompleted:
				return nil
			case agent.ResponseError:
				return fmt.Errorf("%w: %s", errSessionPoisoned, resp.Message)
			case agent.ResponseStatusUpdate:
				// One-shot runs approve nothing; deny and keep going.
				if strings.HasPrefix(resp.Message, "confirmation required for tool ") {
					if err := setup.session.SendSystemControl(steering.CommandDenyTool, nil); err != nil {
						return err
					}
				}
			}
		}
	}
}

func runSessionsList(out io.Writer) error {
	workspace, err := resolveWorkspaceContext()
	if err != nil {
		return err
	}
	indexPath, err := sessionIndexPath()
	if err != nil {
		return err
	}
	index, err := newSessionIndex(indexPath)
	if err != nil {
		return err
	}
	defer index.Close()
	records, err := index.ListWorkspaceSessions(workspace.Key, 20)
	if err != nil {
		return err
	}
	printSessionRecords(out, records)
	return nil
}
