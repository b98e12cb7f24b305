package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func executeCLI() error {
	root := buildRootCommand(true)
	return root.Execute()
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "dotchat",
		Short: "Chat assistant bot for OpenAI-compatible models with Discord and terminal front-ends",
		Long: strings.TrimSpace(`dotchat relays user messages to a chat-completion model and keeps
per-user dialogs, chat modes and token usage in a local SQLite database.

Use CLI commands to onboard, chat locally in the terminal, run the Discord
gateway, and inspect stored state.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVar(&configPathOverride, "config", "", "Config file path (default ~/.dotchat/config.json)")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		root.AddCommand(newDocsCommand(func() *cobra.Command { return buildRootCommand(false) }))
	}

	return root
}

func newOnboardCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "onboard",
		Short:   "Write a default ~/.dotchat/config.json",
		Long:    "Create the default configuration file for a new dotchat installation.",
		Example: "  dotchat onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(cmd, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config without asking")
	return cmd
}

func newChatCommand() *cobra.Command {
	var (
		message string
		user    string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the bot in the terminal",
		Long: strings.TrimSpace(`Run an interactive terminal session or send a one-shot message.
Bot commands such as /new, /retry and /mode work as they do on Discord.
When offered a list of choices, type its number to pick one.`),
		Example: strings.Join([]string{
			"  dotchat chat",
			"  dotchat chat --user alice",
			"  dotchat chat --message \"explain goroutines\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, message, user, debug)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message to send")
	cmd.Flags().StringVarP(&user, "user", "u", "local-user", "Local user id for dialog continuity")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newGatewayCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the Discord gateway + health server",
		Long:    "Start the Discord channel, the message orchestrator, the health/metrics server and the optional retention sweep.",
		Example: "  dotchat gateway --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd, debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration, credentials and stored state",
		Example: "  dotchat status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  dotchat version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}
