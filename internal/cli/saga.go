package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/aretw0/sagaflow/internal/presentation/tui"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/registry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newSagaCommand(reg *registry.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saga",
		Short: "Manage stored executions",
		Long:  `List, inspect, compensate and remove the executions held by the configured store.`,
	}
	cmd.PersistentFlags().StringP("output", "o", "text", "Output format: text, json or yaml")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "ls",
			Short: "List stored executions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := openApp(cmd.Context(), cmd, reg)
				if err != nil {
					return err
				}
				defer app.Close()

				ids, err := app.Store.List(cmd.Context())
				if err != nil {
					return fmt.Errorf("error listing executions: %w", err)
				}
				recs := make([]*domain.ExecutionRecord, 0, len(ids))
				for _, id := range ids {
					rec, err := app.Store.Load(cmd.Context(), id)
					if err != nil {
						app.Logger.Warn("skipping unreadable execution", "saga_id", id, "err", err)
						continue
					}
					recs = append(recs, rec)
				}

				format, _ := cmd.Flags().GetString("output")
				if format == "text" {
					return tui.NewPrinter(cmd.OutOrStdout()).Executions(recs)
				}
				return encode(cmd.OutOrStdout(), format, recs)
			},
		},
		&cobra.Command{
			Use:   "inspect <execution-id>",
			Short: "Show the stored state of an execution",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := openApp(cmd.Context(), cmd, reg)
				if err != nil {
					return err
				}
				defer app.Close()

				rec, err := app.Manager.Load(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("error loading execution '%s': %w", args[0], err)
				}

				format, _ := cmd.Flags().GetString("output")
				if format == "text" {
					def, _ := reg.Get(rec.SagaName)
					return tui.NewPrinter(cmd.OutOrStdout()).Execution(rec, def)
				}
				return encode(cmd.OutOrStdout(), format, rec)
			},
		},
		&cobra.Command{
			Use:   "compensate <execution-id>",
			Short: "Run the compensations of a failed execution",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := openApp(cmd.Context(), cmd, reg)
				if err != nil {
					return err
				}
				defer app.Close()

				if err := app.Manager.Compensate(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("error compensating '%s': %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Compensated execution '%s'\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "rm <execution-id>...",
			Short: "Remove one or more executions",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := openApp(cmd.Context(), cmd, reg)
				if err != nil {
					return err
				}
				defer app.Close()

				failed := 0
				for _, id := range args {
					if err := app.Store.Delete(cmd.Context(), id); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "Error removing '%s': %v\n", id, err)
						failed++
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed execution '%s'\n", id)
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d executions could not be removed", failed, len(args))
				}
				return nil
			},
		},
	)
	return cmd
}

func encode(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	switch format {
	case "json":
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		// Decoding the JSON keeps the context's insertion order, which a map would lose.
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return err
		}
		blockStyle(&node)
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&node); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
