package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/sagaflow"
	"github.com/aretw0/sagaflow/internal/presentation/graph"
	"github.com/aretw0/sagaflow/internal/telemetry"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/registry"
	"github.com/spf13/cobra"
)

func newServeCommand(reg *registry.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume replies and serve metrics",
		Long: `Subscribes to the reply topic and resumes the executions replies correlate with.
Exposes /metrics, /healthz and read-only /sagas endpoints.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx := NewSignalContext(cmd.Context())
			defer sigCtx.Cancel()

			app, err := openApp(sigCtx, cmd, reg)
			if err != nil {
				return err
			}
			defer app.Close()

			shutdown, err := telemetry.Setup(sigCtx, telemetry.Config{
				ServiceName:    app.Config.Telemetry.ServiceName,
				ServiceVersion: sagaflow.Version,
				OTLPEndpoint:   app.Config.Telemetry.OTLPEndpoint,
				Insecure:       app.Config.Telemetry.Insecure,
				SampleRatio:    app.Config.Telemetry.SampleRatio,
			})
			if err != nil {
				return fmt.Errorf("error initializing telemetry: %w", err)
			}
			defer func() {
				if err := shutdown(cmd.Context()); err != nil {
					app.Logger.Warn("telemetry shutdown failed", "err", err)
				}
			}()

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = app.Config.HTTP.Addr
			}

			err = Serve(sigCtx, app, addr)
			if sig := sigCtx.Signal(); sig != nil {
				app.Logger.Info("stopped", "signal", sig.String())
			}
			return err
		},
	}
	cmd.Flags().String("addr", "", "Listen address of the ops server (overrides http.addr)")
	return cmd
}

func newStartCommand(reg *registry.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <saga>",
		Short: "Start a new execution of a registered saga",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, _ := cmd.Flags().GetStringArray("set")
			seed, err := parseContext(pairs)
			if err != nil {
				return err
			}
			user, _ := cmd.Flags().GetString("user")

			app, err := openApp(cmd.Context(), cmd, reg)
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := app.Manager.Run(cmd.Context(), sagaflow.RunRequest{Name: args[0], Context: seed, User: user})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringArray("set", nil, "Seed context entry as key=value; JSON values are decoded")
	cmd.Flags().String("user", "", "User propagated into every command")
	return cmd
}

// parseContext keeps flag order. Values that parse as JSON are decoded, anything else stays a string.
func parseContext(pairs []string) (*domain.SagaContext, error) {
	sc := domain.NewContext()
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", p)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		sc.Set(key, v)
	}
	return sc, nil
}

func newGraphCommand(reg *registry.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <saga>",
		Short: "Export a saga definition as a Mermaid diagram",
		Long: `Outputs a Mermaid flowchart (graph TD) of the saga's steps and compensations.
With --execution, steps are styled by the status recorded for that execution.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := reg.Get(args[0])
			if err != nil {
				return err
			}

			var rec *domain.ExecutionRecord
			if id, _ := cmd.Flags().GetString("execution"); id != "" {
				app, err := openApp(cmd.Context(), cmd, reg)
				if err != nil {
					return err
				}
				defer app.Close()

				if rec, err = app.Manager.Load(cmd.Context(), id); err != nil {
					return err
				}
				if rec.SagaName != def.Name() {
					return errors.New("execution " + id + " belongs to saga " + rec.SagaName)
				}
			}

			fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(def, rec))
			return nil
		},
	}
	cmd.Flags().String("execution", "", "Overlay the recorded status of this execution")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of sagaflow",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sagaflow version %s\n", strings.TrimSpace(sagaflow.Version))
		},
	}
}
