package main

import (
	"errors"
	"fmt"
	"strconv"

	"nagare/internal/depmanager"
	"nagare/pkg/logger"

	"github.com/spf13/cobra"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check that yt-dlp and ffmpeg are installed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			st := depmanager.New(logger.Discard(), cfg.Executor).Check(cmd.Context())

			if ctx.json() {
				return writeJSON(cmd, st)
			}

			rows := make([][]string, 0, 2)
			for _, info := range []depmanager.Info{st.YTdlp, st.FFmpeg} {
				rows = append(rows, []string{
					string(info.Name),
					strconv.FormatBool(info.Installed),
					info.Version,
					info.Path,
					info.Error,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderTable([]string{"Binary", "Installed", "Version", "Path", "Error"}, rows, nil, isTerminal(out)))

			if !st.AllInstalled {
				return errors.New("missing dependencies")
			}

			return nil
		},
	}
}
