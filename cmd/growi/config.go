package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"growiclient/app/internal/settings"
)

type settingsView struct {
	WikiURL        string `yaml:"wikiUrl"`
	APIToken       string `yaml:"apiToken"`
	RootPath       string `yaml:"rootPath"`
	MaxPagePerTime int    `yaml:"maxPagePerTime"`
}

func viewOf(current settings.Settings) settingsView {
	return settingsView{
		WikiURL:        current.WikiURL,
		APIToken:       maskToken(current.APIToken),
		RootPath:       current.RootPath,
		MaxPagePerTime: current.MaxPagePerTime,
	}
}

func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", len(token)-4) + token[len(token)-4:]
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the stored wiki settings",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the current settings as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd, opts, func(_ context.Context, store *settings.Store) error {
					encoder := yaml.NewEncoder(cmd.OutOrStdout())
					encoder.SetIndent(2)
					if err := encoder.Encode(viewOf(store.Current())); err != nil {
						return eris.Wrap(err, "encoding settings")
					}
					return encoder.Close()
				})
			},
		},
		settingCommand(opts, "set-url <url>", "Set the wiki base URL", func(ctx context.Context, store *settings.Store, value string) error {
			return store.SetWikiURL(ctx, value)
		}),
		settingCommand(opts, "set-token <token>", "Set the API access token", func(ctx context.Context, store *settings.Store, value string) error {
			return store.SetAPIToken(ctx, value)
		}),
		&cobra.Command{
			Use:   "clear-token",
			Short: "Forget the API access token",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd, opts, func(ctx context.Context, store *settings.Store) error {
					return store.ClearAPIToken(ctx)
				})
			},
		},
		settingCommand(opts, "set-root <path>", "Set the tree root path", func(ctx context.Context, store *settings.Store, value string) error {
			return store.SetRootPath(ctx, value)
		}),
		settingCommand(opts, "set-max <count>", "Set how many pages one expansion loads", func(ctx context.Context, store *settings.Store, value string) error {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return eris.Wrapf(err, "invalid page count: %s", value)
			}
			return store.SetMaxPagePerTime(ctx, n)
		}),
	)

	return cmd
}

func settingCommand(opts *rootOptions, use, short string, set func(context.Context, *settings.Store, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(ctx context.Context, store *settings.Store) error {
				return set(ctx, store, args[0])
			})
		},
	}
}

func withStore(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *settings.Store) error) error {
	s, err := startSession(cmd.Context(), commandLogger(opts), nil)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(cmd.Context(), s.app.Settings)
}
