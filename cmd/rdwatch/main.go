// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/autobrr/rdwatch/internal/buildinfo"
	"github.com/autobrr/rdwatch/internal/config"
	"github.com/autobrr/rdwatch/internal/filelist"
	"github.com/autobrr/rdwatch/internal/realdebrid"
	"github.com/autobrr/rdwatch/internal/tracker"
	"github.com/autobrr/rdwatch/pkg/natsort"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "rdwatch",
		Short: "Track Real-Debrid torrents and resolve playback links",
		Long: `rdwatch - polls a Real-Debrid account, reports download progress,
browses torrent files and resolves streamable links.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunSetTokenCommand())
	rootCmd.AddCommand(RunFilesCommand())
	rootCmd.AddCommand(RunStatusCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the tracker and the HTTP API",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/rdwatch/ or %APPDATA%\\rdwatch\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the database (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "expose pprof under /debug")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath, pprofFlag)
		app.runServer()
	}

	return command
}

func RunVersionCommand() *cobra.Command {
	var asJSON bool

	command := &cobra.Command{
		Use:   "version",
		Short: "Print the version of rdwatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !asJSON {
				cmd.Println(buildinfo.String())
				return nil
			}
			out, err := buildinfo.JSON()
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}

	command.Flags().BoolVar(&asJSON, "json", false, "print build information as JSON")

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/rdwatch/config.toml
- Windows: %APPDATA%\rdwatch\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := resolveConfigFile(configDir)

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func resolveConfigFile(configDir string) string {
	if configDir == "" {
		return filepath.Join(config.GetDefaultConfigDir(), "config.toml")
	}
	if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
		return configDir
	}
	if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
		return configDir
	}
	return filepath.Join(configDir, "config.toml")
}

func readSecret(prompt string) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print(prompt)
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return string(secret), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	var secret string
	if _, err := fmt.Scanln(&secret); err != nil {
		return "", fmt.Errorf("failed to read token from stdin: %w", err)
	}
	return secret, nil
}

func RunSetTokenCommand() *cobra.Command {
	var configDir, token string

	command := &cobra.Command{
		Use:   "set-token",
		Short: "Store the Real-Debrid API token in the config file",
		Long: `Store the Real-Debrid API token in the config file.

A running server picks the new token up through its config watcher and
restarts tracking with it. Pass an empty token to clear it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if !cmd.Flags().Changed("token") {
				token, err = readSecret("Enter API token: ")
				if err != nil {
					return err
				}
			}

			if err := cfg.SetAPIToken(token); err != nil {
				return err
			}

			if strings.TrimSpace(token) == "" {
				cmd.Println("API token cleared")
			} else {
				cmd.Printf("API token %s saved to %s\n", redactToken(token), cfg.ConfigFileUsed())
			}
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path")
	command.Flags().StringVar(&token, "token", "", "API token (prompted when omitted)")

	return command
}

func redactToken(token string) string {
	token = strings.TrimSpace(token)
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", len(token)-4) + token[len(token)-4:]
}

// loadClient builds a one-shot API client from the config file.
func loadClient(configDir string) (*realdebrid.Client, error) {
	cfg, err := config.New(configDir, buildinfo.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Config.HasAPIToken() {
		return nil, errors.Wrap(realdebrid.ErrMissingToken, "run set-token first")
	}
	return realdebrid.NewClient(debridConfig(cfg.Config.APIToken, cfg)), nil
}

func RunFilesCommand() *cobra.Command {
	var configDir, sortDir, query, typ, match string

	command := &cobra.Command{
		Use:   "files <torrent-id>",
		Short: "List the files of a torrent grouped by folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := viewOptions(sortDir, query, typ, match)
			if err != nil {
				return err
			}

			client, err := loadClient(configDir)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			info, err := client.GetTorrent(ctx, args[0])
			if err != nil {
				return err
			}

			printView(cmd.OutOrStdout(), info, filelist.Build(info.Files, opts))
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path")
	command.Flags().StringVar(&sortDir, "sort", "asc", "sort direction: asc or desc")
	command.Flags().StringVar(&query, "q", "", "filter files by path")
	command.Flags().StringVar(&typ, "type", "all", "file type: all, video or subtitle")
	command.Flags().StringVar(&match, "match", "substring", "filter mode: substring or fuzzy")

	return command
}

func viewOptions(sortDir, query, typ, match string) (filelist.Options, error) {
	dir, ok := filelist.ParseDirection(sortDir)
	if !ok {
		return filelist.Options{}, fmt.Errorf("invalid sort direction %q", sortDir)
	}
	filter, ok := filelist.ParseTypeFilter(typ)
	if !ok {
		return filelist.Options{}, fmt.Errorf("invalid type filter %q", typ)
	}
	mode, ok := filelist.ParseMatchMode(match)
	if !ok {
		return filelist.Options{}, fmt.Errorf("invalid match mode %q", match)
	}
	return filelist.Options{Direction: dir, Query: query, Type: filter, Match: mode}, nil
}

func printView(out io.Writer, info *realdebrid.TorrentInfo, view filelist.View) {
	selection := filelist.NewSelection(info.Files)
	fmt.Fprintf(out, "%s (%s) %d/%d selected\n", info.Filename, info.Status.Message(info.Progress), selection.Count(), selection.Total())

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, g := range view.Groups {
		folder := g.Folder
		if folder == "" {
			folder = "/"
		}
		fmt.Fprintf(w, "%s\n", folder)
		for _, f := range g.Files {
			mark := " "
			if selection.IsSelected(f.ID) {
				mark = "*"
			}
			fmt.Fprintf(w, "  %s\t%d\t%s\t%d\n", mark, f.ID, filelist.BaseName(f.Path), f.Bytes)
		}
	}
	w.Flush()
}

func RunStatusCommand() *cobra.Command {
	var (
		configDir string
		all       bool
	)

	command := &cobra.Command{
		Use:   "status",
		Short: "Show torrents that are still downloading",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient(configDir)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			remote, err := client.ListTorrents(ctx, tracker.DefaultConfig().PageSize)
			if err != nil {
				return err
			}

			rows := statusRows(remote, time.Now(), all)
			if len(rows) == 0 {
				cmd.Println("No active torrents")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, t := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Message(), t.Filename)
			}
			w.Flush()
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path")
	command.Flags().BoolVar(&all, "all", false, "include finished torrents")

	return command
}

// statusRows converts remote torrents, drops finished ones unless all is set
// and orders the rest naturally by filename.
func statusRows(remote []realdebrid.Torrent, now time.Time, all bool) []tracker.TrackedTorrent {
	rows := make([]tracker.TrackedTorrent, 0, len(remote))
	for _, rt := range remote {
		t := tracker.FromRemote(rt, now)
		if !all && !t.IsActive() {
			continue
		}
		rows = append(rows, t)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return natsort.Less(rows[i].Filename, rows[j].Filename)
	})
	return rows
}
