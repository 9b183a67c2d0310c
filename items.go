package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"nagare/internal/apiclient"
	"nagare/internal/entity"
	"nagare/internal/service"
	"nagare/internal/snapshot"
	"nagare/pkg/urls"

	"github.com/spf13/cobra"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var (
		quality  string
		format   string
		title    string
		fromFile string
	)

	cmd := &cobra.Command{
		Use:   "add [url...]",
		Short: "Submit one or more URLs to the queue",
		Long: "Submit URLs to the queue. A single URL is submitted as is; several URLs, " +
			"playlists or --file are sent as text and extracted server side.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args, fromFile)
			if err != nil {
				return err
			}

			return ctx.withClient(func(client *apiclient.Client) error {
				var adms []service.Admission

				if len(args) == 1 && fromFile == "" && !urls.IsPlaylist(args[0]) {
					adm, err := client.Submit(cmd.Context(), service.SubmitRequest{
						URL:     args[0],
						Quality: quality,
						Format:  format,
						Title:   title,
					})
					if err != nil {
						return err
					}

					adms = []service.Admission{adm}
				} else {
					if adms, err = client.SubmitText(cmd.Context(), text, quality, format); err != nil {
						return err
					}
				}

				if ctx.json() {
					return writeJSON(cmd, adms)
				}

				printAdmissions(cmd, adms)

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&quality, "quality", "q", "", "Quality, e.g. 1080, 720p, best, audio")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Container format, e.g. mp4, mkv, mp3")
	cmd.Flags().StringVar(&title, "title", "", "Known title of a single URL (enables the file duplicate check)")
	cmd.Flags().StringVar(&fromFile, "file", "", "Read text containing URLs from a file, - for stdin")

	return cmd
}

func readInput(cmd *cobra.Command, args []string, fromFile string) (string, error) {
	switch fromFile {
	case "":
		if len(args) == 0 {
			return "", errors.New("no urls given")
		}

		return strings.Join(args, "\n"), nil
	case "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}

		return string(b), nil
	default:
		b, err := os.ReadFile(fromFile)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", fromFile, err)
		}

		return strings.Join(append(args, string(b)), "\n"), nil
	}
}

func printAdmissions(cmd *cobra.Command, adms []service.Admission) {
	out := cmd.OutOrStdout()
	if len(adms) == 0 {
		fmt.Fprintln(out, "No URLs found")

		return
	}

	rows := make([][]string, 0, len(adms))
	pending := false

	for _, adm := range adms {
		id, note := "", adm.Warning

		if adm.Item != nil {
			id = adm.Item.ID
		}

		if adm.Outcome == service.OutcomePending {
			pending = true
			note = fmt.Sprintf("prompt %s (%s duplicate of %s)", adm.PromptID, adm.Kind, adm.ExistingRef)
		}

		rows = append(rows, []string{string(adm.Outcome), id, adm.URL, note})
	}

	fmt.Fprint(out, renderTable([]string{"Outcome", "ID", "URL", "Note"}, rows, nil, isTerminal(out)))

	if pending {
		fmt.Fprintln(out, "Answer pending duplicates with `nagare decide <prompt-id> <action>`")
	}
}

func newExtractCommand(ctx *commandContext) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "extract [text...]",
		Short: "List the URLs found in text without queueing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args, fromFile)
			if err != nil {
				return err
			}

			return ctx.withClient(func(client *apiclient.Client) error {
				found, dups, err := client.Extract(cmd.Context(), text)
				if err != nil {
					return err
				}

				if ctx.json() {
					return writeJSON(cmd, map[string]any{"urls": found, "duplicates": dups})
				}

				out := cmd.OutOrStdout()

				rows := make([][]string, 0, len(found))
				for _, u := range found {
					rows = append(rows, []string{u.URL, u.Platform, strconv.FormatBool(u.IsPlaylist), strconv.FormatBool(u.Valid)})
				}

				fmt.Fprint(out, renderTable([]string{"URL", "Platform", "Playlist", "Valid"}, rows, nil, isTerminal(out)))
				fmt.Fprintf(out, "%d urls, %d duplicates dropped\n", len(found), dups)

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&fromFile, "file", "", "Read text from a file, - for stdin")

	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List queue items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				items, err := client.List(cmd.Context())
				if err != nil {
					return err
				}

				items = filterStatuses(items, statuses)

				if ctx.json() {
					return writeJSON(cmd, items)
				}

				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "Queue is empty")

					return nil
				}

				color := isTerminal(out)

				rows := make([][]string, 0, len(items))
				for _, it := range items {
					rows = append(rows, []string{
						strconv.FormatInt(it.Seq, 10),
						it.ID,
						statusLabel(it.Status, color),
						strconv.Itoa(it.Progress) + "%",
						qualityLabel(it),
						truncate(titleOrURL(it), 48),
					})
				}

				fmt.Fprint(out, renderTable(
					[]string{"#", "ID", "Status", "Progress", "Quality", "Title"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
					color,
				))

				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Only show items with these statuses")

	return cmd
}

func filterStatuses(items []entity.DownloadItem, statuses []string) []entity.DownloadItem {
	if len(statuses) == 0 {
		return items
	}

	keep := make(map[entity.Status]bool, len(statuses))
	for _, s := range statuses {
		keep[entity.Status(strings.ToLower(strings.TrimSpace(s)))] = true
	}

	filtered := items[:0]

	for _, it := range items {
		if keep[it.Status] {
			filtered = append(filtered, it)
		}
	}

	return filtered
}

func qualityLabel(it entity.DownloadItem) string {
	if it.ResolvedQuality != "" && it.ResolvedQuality != it.RequestedQuality {
		return it.RequestedQuality + " → " + it.ResolvedQuality
	}

	return it.RequestedQuality
}

func titleOrURL(it entity.DownloadItem) string {
	if it.Title != "" {
		return it.Title
	}

	return it.URL
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one queue item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				it, err := client.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				if ctx.json() {
					return writeJSON(cmd, it)
				}

				out := cmd.OutOrStdout()
				color := isTerminal(out)

				rows := [][]string{
					{"ID", it.ID},
					{"URL", it.URL},
					{"Platform", it.Platform},
					{"Title", it.Title},
					{"Duration", it.DurationLabel},
					{"Status", statusLabel(it.Status, color)},
					{"Progress", strconv.Itoa(it.Progress) + "%"},
					{"Quality", qualityLabel(it)},
					{"Format", it.Format},
					{"Convert", convertLabel(it)},
					{"Output", it.OutputDir},
					{"File", it.FilePath},
				}

				if it.Speed != "" || it.ETA != "" {
					rows = append(rows, []string{"Speed", it.Speed}, []string{"ETA", it.ETA})
				}

				if it.IsDuplicate {
					rows = append(rows, []string{"Duplicate", fmt.Sprintf("%s (%s)", it.DuplicateKind, it.DuplicateAction)})
				}

				if it.Error != "" {
					rows = append(rows, []string{"Error", it.Error})
				}

				rows = append(rows, []string{"Updated", it.UpdatedAt.Local().Format(time.DateTime)})

				fmt.Fprint(out, renderTable([]string{"Field", "Value"}, rows, nil, color))

				return nil
			})
		},
	}
}

func convertLabel(it entity.DownloadItem) string {
	switch {
	case it.ConvertFormat == "":
		return "-"
	case it.AutoConvert:
		return it.ConvertFormat + " (auto)"
	default:
		return it.ConvertFormat
	}
}

func newIntentCommands(ctx *commandContext) []*cobra.Command {
	intents := []struct {
		name  string
		short string
	}{
		{"start", "Start queued or paused items"},
		{"pause", "Pause running items"},
		{"stop", "Cancel items"},
		{"retry", "Requeue failed items"},
	}

	cmds := make([]*cobra.Command, 0, len(intents))

	for _, in := range intents {
		cmds = append(cmds, &cobra.Command{
			Use:   in.name + " <id...>",
			Short: in.short,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return ctx.withClient(func(client *apiclient.Client) error {
					var failed []error

					for _, id := range args {
						it, err := client.Intent(cmd.Context(), id, in.name)
						if err != nil {
							failed = append(failed, fmt.Errorf("%s %s: %w", in.name, id, err))

							continue
						}

						fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", it.ID, it.Status)
					}

					return errors.Join(failed...)
				})
			},
		})
	}

	return cmds
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id...>",
		Aliases: []string{"rm"},
		Short:   "Remove items from the queue, cancelling active ones",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				var failed []error

				for _, id := range args {
					if err := client.Remove(cmd.Context(), id); err != nil {
						failed = append(failed, fmt.Errorf("remove %s: %w", id, err))

						continue
					}

					fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
				}

				return errors.Join(failed...)
			})
		},
	}
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every item from the queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				n, err := client.Clear(cmd.Context())
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d items\n", n)

				return nil
			})
		},
	}
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Save the queue as an xz snapshot (- for stdout)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := snapshot.FileName(time.Now())
			if len(args) == 1 {
				path = args[0]
			}

			return ctx.withClient(func(client *apiclient.Client) error {
				if path == "-" {
					return client.Export(cmd.Context(), cmd.OutOrStdout())
				}

				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("create snapshot file: %w", err)
				}

				if err := client.Export(cmd.Context(), f); err != nil {
					_ = f.Close()
					_ = os.Remove(path)

					return err
				}

				if err := f.Close(); err != nil {
					return fmt.Errorf("close snapshot file: %w", err)
				}

				fmt.Fprintf(cmd.ErrOrStderr(), "Snapshot written to %s\n", path)

				return nil
			})
		},
	}
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load items from an xz snapshot (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()

			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open snapshot: %w", err)
				}
				defer f.Close()

				r = f
			}

			return ctx.withClient(func(client *apiclient.Client) error {
				n, err := client.Import(cmd.Context(), r)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d items\n", n)

				return nil
			})
		},
	}
}
