package main

import (
	"fmt"
	"strings"
	"sync"

	"nagare/internal/apiclient"
	"nagare/internal/config"

	"github.com/spf13/cobra"
)

type commandContext struct {
	serverFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newRootCommand() *cobra.Command {
	var (
		serverFlag string
		jsonFlag   bool
	)

	ctx := &commandContext{serverFlag: &serverFlag, jsonFlag: &jsonFlag}

	rootCmd := &cobra.Command{
		Use:           "nagare",
		Short:         "Download queue with duplicate detection and automatic conversion",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			_, err := ctx.ensureConfig()

			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Server URL (defaults to NAGARE_CLIENT_SERVER_URL)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print raw JSON instead of tables")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newAddCommand(ctx))
	rootCmd.AddCommand(newExtractCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))

	for _, cmd := range newIntentCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}

	rootCmd.AddCommand(newRemoveCommand(ctx))
	rootCmd.AddCommand(newClearCommand(ctx))
	rootCmd.AddCommand(newPromptCommand(ctx))
	rootCmd.AddCommand(newDecideCommand(ctx))
	rootCmd.AddCommand(newSettingsCommand(ctx))
	rootCmd.AddCommand(newExportCommand(ctx))
	rootCmd.AddCommand(newImportCommand(ctx))
	rootCmd.AddCommand(newDepsCommand(ctx))

	return rootCmd
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.New()
		if c.configErr != nil {
			c.configErr = fmt.Errorf("load config: %w", c.configErr)
		}
	})

	return c.config, c.configErr
}

func (c *commandContext) json() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) serverURL(cfg *config.Config) string {
	if c.serverFlag != nil && strings.TrimSpace(*c.serverFlag) != "" {
		return strings.TrimSpace(*c.serverFlag)
	}

	return cfg.Client.ServerURL
}

func (c *commandContext) withClient(fn func(*apiclient.Client) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	server := c.serverURL(cfg)

	client, err := apiclient.New(server, cfg.Client.Timeout)
	if err != nil {
		return wrapClientError(err, server)
	}

	return wrapClientError(fn(client), server)
}

func wrapClientError(err error, server string) error {
	if err == nil {
		return nil
	}

	if apiclient.IsUnavailable(err) {
		return fmt.Errorf("connect to %s: %w; start the server with `nagare serve`", server, err)
	}

	return err
}
