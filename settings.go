package main

import (
	"fmt"
	"strconv"
	"strings"

	"nagare/internal/apiclient"
	"nagare/internal/entity"

	"github.com/spf13/cobra"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change queue settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show the current settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				s, err := client.Settings(cmd.Context())
				if err != nil {
					return err
				}

				return printSettings(cmd, ctx, s)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "set <key=value...>",
		Short:   "Change settings by JSON field name, e.g. maxConcurrent=3 autoConvert=true",
		Args:    cobra.MinimumNArgs(1),
		Example: "  nagare settings set maxConcurrent=2 convertFormat=mp4_h264 urlDuplicatePolicy=ask",
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parsePatch(args)
			if err != nil {
				return err
			}

			return ctx.withClient(func(client *apiclient.Client) error {
				s, err := client.UpdateSettings(cmd.Context(), patch)
				if err != nil {
					return err
				}

				return printSettings(cmd, ctx, s)
			})
		},
	})

	return cmd
}

// parsePatch turns key=value pairs into a partial settings document. Integers
// and true/false are sent typed.
func parsePatch(args []string) (map[string]any, error) {
	patch := make(map[string]any, len(args))

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)

		if !ok || key == "" {
			return nil, fmt.Errorf("invalid setting %q, want key=value", arg)
		}

		value = strings.TrimSpace(value)

		if n, err := strconv.Atoi(value); err == nil {
			patch[key] = n

			continue
		}

		switch strings.ToLower(value) {
		case "true":
			patch[key] = true
		case "false":
			patch[key] = false
		default:
			patch[key] = value
		}
	}

	return patch, nil
}

func printSettings(cmd *cobra.Command, ctx *commandContext, s entity.Settings) error {
	if ctx.json() {
		return writeJSON(cmd, s)
	}

	rows := [][]string{
		{"maxConcurrent", strconv.Itoa(s.MaxConcurrent)},
		{"defaultQuality", s.DefaultQuality},
		{"defaultFormat", s.DefaultFormat},
		{"outputDir", s.OutputDir},
		{"convertFormat", s.ConvertFormat},
		{"autoConvert", strconv.FormatBool(s.AutoConvert)},
		{"keepOriginal", strconv.FormatBool(s.KeepOriginal)},
		{"urlDuplicatePolicy", string(s.URLDuplicatePolicy)},
		{"fileDuplicatePolicy", string(s.FileDuplicatePolicy)},
		{"showDuplicateWarnings", strconv.FormatBool(s.ShowDuplicateWarnings)},
		{"notifications", strconv.FormatBool(s.Notifications)},
		{"autoStart", strconv.FormatBool(s.AutoStart)},
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, renderTable([]string{"Key", "Value"}, rows, nil, isTerminal(out)))

	return nil
}
