// hostrun runs contract invocations against the host from the command
// line and inspects host functions and pvm programs.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/host"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/log"
	"github.com/colorfulnotion/contracthost/pvm"
	"github.com/colorfulnotion/contracthost/storage"
)

var (
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel, debug string
	rootCmd := &cobra.Command{
		Use:           "hostrun",
		Short:         "Run contracts on the deterministic contract host",
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := log.InitLogger(logLevel); err != nil {
				return err
			}
			log.EnableModules(debug)
			return nil
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, crit)")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "Debug modules to enable (host,frame,dispatch,budget,bridge,storage,pvm,wasm)")

	rootCmd.AddCommand(newInvokeCmd(), newFunctionsCmd(), newDisasmCmd())
	return rootCmd
}

type invokeFlags struct {
	budgetPath    string
	dbPath        string
	commit        bool
	traceEndpoint string
	showTrace     bool
}

func newInvokeCmd() *cobra.Command {
	var f invokeFlags
	cmd := &cobra.Command{
		Use:   "invoke <manifest.yaml>",
		Short: "Run the invocation described by a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(cmd.Context(), cmd.OutOrStdout(), args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.budgetPath, "budget", "", "TOML file with limits and cost model overrides")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "LevelDB directory holding the ledger snapshot")
	cmd.Flags().BoolVar(&f.commit, "commit", false, "Apply the write set to --db on success")
	cmd.Flags().StringVar(&f.traceEndpoint, "trace-endpoint", "", "OTLP/HTTP endpoint for spans (e.g. localhost:4318)")
	cmd.Flags().BoolVar(&f.showTrace, "trace", true, "Print the frame tree")
	return cmd
}

func newTracerProvider(ctx context.Context, endpoint string) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}
	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName("hostrun"))
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res)), nil
}

func runInvoke(ctx context.Context, out io.Writer, path string, f invokeFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.commit && f.dbPath == "" {
		return fmt.Errorf("--commit needs --db")
	}
	m, err := LoadManifest(path)
	if err != nil {
		return err
	}
	base := host.DefaultConfig()
	if f.budgetPath != "" {
		if base.Limits, base.CostParams, err = budget.LoadConfig(f.budgetPath); err != nil {
			return err
		}
	}
	cfg, err := m.Config(base)
	if err != nil {
		return err
	}
	opts, err := m.ContractOptions()
	if err != nil {
		return err
	}
	if f.traceEndpoint != "" {
		tp, err := newTracerProvider(ctx, f.traceEndpoint)
		if err != nil {
			return err
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				log.Warn(log.HostMonitoring, "trace exporter shutdown", "err", err)
			}
		}()
		opts = append(opts, host.WithTracer(tp.Tracer("hostrun")))
	}
	h, err := host.New(cfg, opts...)
	if err != nil {
		return err
	}
	inv, err := m.Invocation()
	if err != nil {
		return err
	}

	var ps *storage.PersistenceStore
	if f.dbPath != "" {
		if ps, err = storage.NewPersistenceStore(f.dbPath); err != nil {
			return err
		}
		defer ps.Close()
		snap, err := ps.Snapshot()
		if err != nil {
			return err
		}
		defer snap.Release()
		inv.Snapshot = snap
	}

	res, err := h.Invoke(ctx, inv)
	printResult(out, res, err, f.showTrace)
	if err != nil {
		return fmt.Errorf("invocation failed: %s", hosterrors.GetErrorName(err))
	}
	if f.commit {
		if err := ps.Apply(res.Writes); err != nil {
			return err
		}
		fmt.Fprintf(out, "committed %d writes to %s\n", len(res.Writes), f.dbPath)
	}
	return nil
}

func printResult(w io.Writer, res *host.Result, err error, showTrace bool) {
	fmt.Fprintf(w, "invocation %s (%s)\n", res.ID, res.Elapsed)
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
	} else {
		fmt.Fprintf(w, "result: %s\n", res.Value)
	}
	for _, ev := range res.Events {
		fmt.Fprintf(w, "event: %s\n", ev)
	}
	for _, ev := range res.Diagnostics {
		fmt.Fprintf(w, "diagnostic: %s\n", ev)
	}
	for _, wr := range res.Writes {
		if wr.Deleted {
			fmt.Fprintf(w, "delete: %s %x\n", wr.Contract, wr.Key)
			continue
		}
		fmt.Fprintf(w, "write: %s %x = %x\n", wr.Contract, wr.Key, wr.Value)
	}
	fmt.Fprint(w, res.Budget)
	if showTrace && res.Trace != nil {
		fmt.Fprint(w, res.Trace.Tree())
	}
}

func newFunctionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "functions [module]",
		Short: "List the host functions contracts can import",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := host.DefaultTable()
			if err != nil {
				return err
			}
			for _, e := range table.Entries() {
				if len(args) == 1 && e.ID.Module != args[0] {
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), e.Signature())
			}
			return nil
		},
	}
}

func newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <program.pvm>",
		Short: "Disassemble a pvm program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p, err := pvm.DecodeProgram(code)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), p.Disassemble())
			return nil
		},
	}
}
