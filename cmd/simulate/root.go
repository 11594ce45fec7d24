package simulate

import (
	"context"
	"errors"
	"fmt"
	cmdUtil "github.com/ValentinKolb/genms/cmd/util"
	"github.com/ValentinKolb/genms/lib/collector"
	"github.com/ValentinKolb/genms/lib/common"
	"github.com/ValentinKolb/genms/lib/util"
	"github.com/ValentinKolb/genms/lib/vm/testvm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	simulateOptions  = common.DefaultOptions()
	simulateWorkload = Workload{}
	SimulateCmd      = &cobra.Command{
		Use:   "simulate",
		Short: "Run a synthetic workload on the collector",
		Long: `Run a synthetic allocation workload on the generational mark-sweep collector and report every collection cycle.
The configuration can be set via command line flags or environment variables. The format of the environment variables is GENMS_<flag> (e.g. GENMS_HEAP_SIZE=16MB)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	cmdUtil.SetupCollectorFlags(SimulateCmd)

	key := "rounds"
	SimulateCmd.Flags().Int(key, 20, cmdUtil.WrapString("Number of allocation rounds"))

	key = "objects"
	SimulateCmd.Flags().Int(key, 100000, cmdUtil.WrapString("Number of objects allocated per round"))

	key = "fields"
	SimulateCmd.Flags().Int(key, 2, cmdUtil.WrapString("Number of reference fields per object"))

	key = "payload"
	SimulateCmd.Flags().Uint64(key, 32, cmdUtil.WrapString("Number of data bytes per object"))

	key = "survival"
	SimulateCmd.Flags().Float64(key, 0.05, cmdUtil.WrapString("Fraction of the allocated objects that survive their first collection"))

	key = "window"
	SimulateCmd.Flags().Int(key, 20000, cmdUtil.WrapString("Number of survivors held by roots. Older survivors die and become garbage in the mature space"))

	key = "pretenure-every"
	SimulateCmd.Flags().Int(key, 0, cmdUtil.WrapString("Allocate every n-th object directly in the mature space (0 disables)"))

	key = "full-heap-every"
	SimulateCmd.Flags().Int(key, 0, cmdUtil.WrapString("Force a full-heap collection after every n-th round (0 disables)"))

	key = "seed"
	SimulateCmd.Flags().Int64(key, 1, cmdUtil.WrapString("Seed of the survivor selection (0 picks a random seed)"))

	key = "format"
	SimulateCmd.Flags().String(key, "table", cmdUtil.WrapString("Output format of the report (table, yaml)"))

	key = "csv"
	SimulateCmd.Flags().String(key, "", cmdUtil.WrapString("Optional path to save the cycle reports as CSV"))

	key = "metrics-endpoint"
	SimulateCmd.Flags().String(key, "", cmdUtil.WrapString("Address to serve Prometheus metrics on (e.g. localhost:9090). The server keeps running after the workload until interrupted"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	opts, err := cmdUtil.GetCollectorOptions()
	if err != nil {
		return err
	}
	simulateOptions = opts

	simulateWorkload = Workload{
		Rounds:          viper.GetInt("rounds"),
		ObjectsPerRound: viper.GetInt("objects"),
		Fields:          viper.GetInt("fields"),
		Payload:         viper.GetUint64("payload"),
		Survival:        viper.GetFloat64("survival"),
		Window:          viper.GetInt("window"),
		PretenureEvery:  viper.GetInt("pretenure-every"),
		FullHeapEvery:   viper.GetInt("full-heap-every"),
		Seed:            viper.GetInt64("seed"),
	}
	if simulateWorkload.Seed == 0 {
		simulateWorkload.Seed = util.GenerateSeed()
	}
	if err := simulateWorkload.Validate(); err != nil {
		return err
	}

	switch format := viper.GetString("format"); format {
	case "table", "yaml":
	default:
		return fmt.Errorf("invalid format %s (expected table or yaml)", format)
	}
	return nil
}

// run creates the collector and runs the workload
func run(cmd *cobra.Command, _ []string) error {
	tvm := testvm.New(testvm.Options{ReturnBarrier: true})
	c, err := collector.New(simulateOptions, tvm)
	if err != nil {
		return err
	}

	// serve metrics while the workload runs
	var server *http.Server
	if endpoint := viper.GetString("metrics-endpoint"); endpoint != "" {
		server = newMetricsServer(endpoint, c, simulateOptions.LogLevel == "debug")
		go func() {
			collector.Logger.Infof("Serving metrics on http://%s/metrics", endpoint)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				collector.Logger.Errorf("metrics server failed: %v", err)
			}
		}()
	}

	out := cmd.OutOrStdout()
	table := viper.GetString("format") == "table"
	if table {
		writeTableHeader(out)
	}

	res := &Result{Workload: simulateWorkload}
	start := time.Now()
	runErr := RunWorkload(c, tvm, simulateWorkload, func(r *collector.CycleReport) {
		res.Cycles = append(res.Cycles, r)
		if table {
			writeTableRow(out, r)
		}
	})
	res.Duration = time.Since(start)
	res.Stats = c.Stats()

	if table {
		writeSummary(out, res)
	} else if err := writeYAML(out, res); err != nil {
		return err
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Fprintf(out, "\nExporting cycle reports to CSV: %s\n", csvPath)
		if err := writeCyclesToCSV(csvPath, res.Cycles); err != nil {
			return fmt.Errorf("failed to export cycle reports to CSV: %v", err)
		}
	}

	if runErr != nil {
		return runErr
	}

	if server != nil {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
	return nil
}
