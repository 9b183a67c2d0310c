package main

import (
	"fmt"
	"strings"

	"nagare/internal/apiclient"

	"github.com/spf13/cobra"
)

func newPromptCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt",
		Short: "Show the duplicate prompt waiting for an answer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				p, ok, err := client.CurrentPrompt(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()

				if ctx.json() {
					if !ok {
						return writeJSON(cmd, nil)
					}

					return writeJSON(cmd, p)
				}

				if !ok {
					fmt.Fprintln(out, "No duplicate prompt outstanding")

					return nil
				}

				options := make([]string, 0, len(p.Options))
				for _, o := range p.Options {
					options = append(options, string(o))
				}

				rows := [][]string{
					{"Prompt", p.ID},
					{"URL", p.URL},
					{"Title", p.Title},
					{"Kind", string(p.Kind)},
					{"Existing", p.ExistingRef},
					{"Options", strings.Join(options, ", ")},
				}

				fmt.Fprint(out, renderTable([]string{"Field", "Value"}, rows, nil, isTerminal(out)))
				fmt.Fprintf(out, "Answer with `nagare decide %s <action>`\n", p.ID)

				return nil
			})
		},
	}
}

func newDecideCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "decide <prompt-id> <action>",
		Short: "Answer a duplicate prompt with skip, download, rename or overwrite",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				adm, err := client.Decide(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}

				if ctx.json() {
					return writeJSON(cmd, adm)
				}

				if adm.Item != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", adm.Outcome, adm.URL, adm.Item.ID)

					return nil
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", adm.Outcome, adm.URL)

				return nil
			})
		},
	}
}
