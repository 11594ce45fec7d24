package cmd

import (
	"fmt"
	"github.com/ValentinKolb/genms/cmd/simulate"
	"github.com/ValentinKolb/genms/lib/common"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "genms",
		Short: "generational mark-sweep garbage collector",
		Long: fmt.Sprintf(`genms (v%s)

A generational garbage collector written in Go: a copying nursery whose
survivors are promoted into a non-moving mark-sweep mature space, traced
by parallel GC workers.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of genms",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("genms v%s\n", Version)
		},
	}

	// optionsCmd prints the default collector options
	optionsCmd = &cobra.Command{
		Use:   "options",
		Short: "Print the default collector options",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(common.DefaultOptions().String())
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(simulate.SimulateCmd)
	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(optionsCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
