package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/dotsetgreg/dotchat/pkg/channels"
	"github.com/dotsetgreg/dotchat/pkg/config"
	"github.com/dotsetgreg/dotchat/pkg/health"
	"github.com/dotsetgreg/dotchat/pkg/logger"
	"github.com/dotsetgreg/dotchat/pkg/metrics"
	"github.com/dotsetgreg/dotchat/pkg/providers"
	"github.com/dotsetgreg/dotchat/pkg/retention"
	"github.com/dotsetgreg/dotchat/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runOnboard(cmd *cobra.Command, force bool) error {
	out := cmd.OutOrStdout()
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil && !force {
		fmt.Fprintf(out, "Config already exists at %s\n", configPath)
		fmt.Fprint(out, "Overwrite? (y/n): ")
		response, readErr := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("read answer: %w", readErr)
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if err := config.SaveConfig(configPath, config.DefaultConfig()); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Fprintf(out, "%s is ready!\n", appName)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Add your OpenAI API key to providers.openai.api_key in", configPath)
	fmt.Fprintln(out, "     (or let each user set one with /set_api_key)")
	fmt.Fprintln(out, "  2. (Gateway mode) Add your Discord bot token to channels.discord.token")
	fmt.Fprintln(out, "  3. Chat locally: dotchat chat")
	fmt.Fprintln(out, "  4. Run gateway: dotchat gateway")
	fmt.Fprintln(out, "  5. Check readiness: dotchat status")
	return nil
}

func validateGatewayConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Channels.Discord.Token) == "" {
		return fmt.Errorf("channels.discord.token is required in %s or DOTCHAT_CHANNELS_DISCORD_TOKEN", getConfigPath())
	}
	if _, ok := providers.ProviderCredentialStatus(cfg); !ok {
		logger.WarnC("dotchat", "No global OpenAI API key configured; only users with /set_api_key can chat")
	}
	return nil
}

func runGateway(cmd *cobra.Command, debug bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	configureLogging(cfg, debug)
	if err := validateGatewayConfig(cfg); err != nil {
		return err
	}

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := metrics.RegisterQueueGauges(prometheus.DefaultRegisterer, a.bus.Pending, a.bus.DroppedInbound); err != nil {
		return err
	}

	sweeper, err := retention.NewSweeper(a.store, cfg.Storage.RetentionDays, cfg.Storage.RetentionSchedule)
	if err != nil {
		return err
	}

	if err := a.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.channels.StopAll(stopCtx)
	}()

	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port)
	healthServer.RegisterCheck("store", a.store.Ping)
	healthServer.RegisterCheck("channels", func(context.Context) error {
		if !a.channels.AllRunning() {
			return errors.New("not all channels are running")
		}
		return nil
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Channels enabled: %s\n", strings.Join(a.channels.GetEnabledChannels(), ", "))
	fmt.Fprintf(out, "✓ Health endpoints available at http://%s:%d/health, /ready and /metrics\n", cfg.Gateway.Host, cfg.Gateway.Port)
	if sweeper != nil {
		fmt.Fprintf(out, "✓ Retention sweep keeps inactive dialogs for %d days\n", cfg.Storage.RetentionDays)
	}
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.orch.Run(gctx)
	})
	g.Go(func() error {
		if err := healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return healthServer.Stop(shutdownCtx)
	})
	if sweeper != nil {
		g.Go(func() error {
			return sweeper.Run(gctx)
		})
	}

	err = g.Wait()
	fmt.Fprintln(out, "\n✓ Gateway stopped")
	return err
}

func runChat(cmd *cobra.Command, message, user string, debug bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	configureLogging(cfg, debug)

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	if strings.TrimSpace(message) != "" {
		cli, err := startCLIChannel(ctx, a, out, user)
		if err != nil {
			return err
		}
		cli.Submit(message)
		return handlePending(ctx, a)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".dotchat_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(out, "Error initializing readline: %v\n", err)
		fmt.Fprintln(out, "Falling back to simple input mode...")
		cli, err := startCLIChannel(ctx, a, out, user)
		if err != nil {
			return err
		}
		return simpleInteractiveMode(ctx, a, cli, cmd.InOrStdin(), out)
	}
	defer rl.Close()

	cli, err := startCLIChannel(ctx, a, rl.Stdout(), user)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s interactive mode (Ctrl+C or \"exit\" to quit, /help for commands)\n\n", appName)

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\nGoodbye!")
				return nil
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			continue
		}
		if done := submitLine(ctx, a, cli, line, out); done {
			return nil
		}
	}
}

func simpleInteractiveMode(ctx context.Context, a *app, cli *channels.CLIChannel, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(out, "\nGoodbye!")
			return scanner.Err()
		}
		if done := submitLine(ctx, a, cli, scanner.Text(), out); done {
			return nil
		}
	}
}

// submitLine hands one input line to the bot and waits for its replies. It
// reports true when the session should end.
func submitLine(ctx context.Context, a *app, cli *channels.CLIChannel, line string, out io.Writer) bool {
	input := strings.TrimSpace(line)
	if input == "exit" || input == "quit" {
		fmt.Fprintln(out, "Goodbye!")
		return true
	}
	cli.Submit(input)
	if err := handlePending(ctx, a); err != nil {
		if ctx.Err() != nil {
			return true
		}
		logger.DebugCF("dotchat", "Message handling failed", map[string]any{"error": err.Error()})
	}
	fmt.Fprintln(out)
	return false
}

func startCLIChannel(ctx context.Context, a *app, out io.Writer, user string) (*channels.CLIChannel, error) {
	cli := channels.NewCLIChannel(out, a.bus, user)
	a.channels.RegisterChannel(channels.CLIChannelName, cli)
	if err := a.channels.StartAll(ctx); err != nil {
		return nil, err
	}
	return cli, nil
}

// handlePending processes queued terminal input synchronously so replies are
// printed before the next prompt.
func handlePending(ctx context.Context, a *app) error {
	var errs []error
	for a.bus.Pending() > 0 {
		msg, ok := a.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		if err := a.orch.HandleMessage(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runStatus(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	configPath := getConfigPath()

	fmt.Fprintf(out, "%s Status\n", appName)
	fmt.Fprintf(out, "Version: %s\n", formatVersion())
	if build, _ := formatBuildInfo(); build != "" {
		fmt.Fprintf(out, "Build: %s\n", build)
	}
	fmt.Fprintln(out)

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintln(out, "Config:", configPath, "✓")
	} else {
		fmt.Fprintln(out, "Config:", configPath, "✗")
	}

	dbPath := cfg.StoragePath()
	if _, err := os.Stat(dbPath); err == nil {
		fmt.Fprintln(out, "Database:", dbPath, "✓")
		if err := printStoreStats(cmd.Context(), out, dbPath); err != nil {
			fmt.Fprintf(out, "  stats unavailable: %v\n", err)
		}
	} else {
		fmt.Fprintln(out, "Database:", dbPath, "not initialized")
	}

	status := func(enabled bool) string {
		if enabled {
			return "✓"
		}
		return "not set"
	}
	provider, apiReady := providers.ProviderCredentialStatus(cfg)
	discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != ""

	fmt.Fprintf(out, "Model: %s\n", cfg.Providers.OpenAI.Model)
	fmt.Fprintf(out, "Dialog timeout: %s\n", cfg.NewDialogTimeout())
	fmt.Fprintf(out, "%s API key: %s\n", provider, status(apiReady))
	fmt.Fprintln(out, "Discord token:", status(discordReady))
	fmt.Fprintln(out, "Gateway ready:", status(discordReady))
	return nil
}

func printStoreStats(ctx context.Context, out io.Writer, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := store.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  Users: %d  Dialogs: %d  Turns: %d\n", stats.Users, stats.Dialogs, stats.Turns)
	return nil
}
