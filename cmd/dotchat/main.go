// DotChat - chat assistant front-end for OpenAI-compatible models
// License: MIT
//
// Copyright (c) 2026 DotChat contributors

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dotsetgreg/dotchat/pkg/agent"
	"github.com/dotsetgreg/dotchat/pkg/billing"
	"github.com/dotsetgreg/dotchat/pkg/bus"
	"github.com/dotsetgreg/dotchat/pkg/channels"
	"github.com/dotsetgreg/dotchat/pkg/chatmode"
	"github.com/dotsetgreg/dotchat/pkg/config"
	"github.com/dotsetgreg/dotchat/pkg/logger"
	"github.com/dotsetgreg/dotchat/pkg/providers"
	"github.com/dotsetgreg/dotchat/pkg/session"
	"github.com/dotsetgreg/dotchat/pkg/store"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "dotchat"

// configPathOverride is set by the --config flag.
var configPathOverride string

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(w, "  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Fprintf(w, "  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	if strings.TrimSpace(configPathOverride) != "" {
		return configPathOverride
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dotchat", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func configureLogging(cfg *config.Config, debug bool) {
	logger.Configure(os.Stderr, cfg.Log.Format)
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if debug {
		logger.SetLevel(logger.DEBUG)
	}
}

// app holds the wired core shared by the gateway and chat commands.
type app struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	sessions *session.Manager
	bus      *bus.MessageBus
	channels *channels.Manager
	provider *providers.OpenAIProvider
	orch     *agent.Orchestrator
}

// newApp wires storage, sessions, provider and orchestrator. Discord is only
// started when withDiscord is set and a token is configured.
func newApp(cfg *config.Config, withDiscord bool) (*app, error) {
	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	catalog, err := chatmode.Load(cfg.ChatModesPath())
	if err != nil {
		return nil, err
	}
	if key := strings.TrimSpace(cfg.Bot.DefaultChatMode); key != "" {
		if catalog, err = catalog.WithDefault(key); err != nil {
			return nil, err
		}
	}

	st, err := store.NewSQLiteStore(cfg.StoragePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	msgBus := bus.NewMessageBus()
	channelCfg := cfg
	if !withDiscord {
		channelCfg = nil
	}
	channelManager, err := channels.NewManager(channelCfg, msgBus)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	sessions := session.NewManager(st, catalog)
	orch, err := agent.NewOrchestrator(agent.Options{
		Store:            st,
		Sessions:         sessions,
		Completer:        provider,
		Transport:        channelManager,
		Bus:              msgBus,
		Billing:          billing.NewEstimator(cfg.Bot.PricePer1KTokens),
		NewDialogTimeout: cfg.NewDialogTimeout(),
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	logger.InfoCF("dotchat", "Core initialized", map[string]any{
		"model":        provider.Model(),
		"chat_modes":   len(catalog.Modes()),
		"default_mode": catalog.Default().Key,
		"storage":      cfg.StoragePath(),
	})

	return &app{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		bus:      msgBus,
		channels: channelManager,
		provider: provider,
		orch:     orch,
	}, nil
}

func (a *app) Close() {
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		logger.WarnCF("dotchat", "Failed to close store", map[string]any{"error": err.Error()})
	}
}
