package main

import (
	"fmt"
	"os"

	_ "github.com/samsamfire/gocanopen-sdo/pkg/can/socketcan"
	_ "github.com/samsamfire/gocanopen-sdo/pkg/can/virtual"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sdoserver",
		Short: "CANopen SDO server node",
		Long: `sdoserver runs a CANopen node answering segmented, expedited and block
SDO transfers on every server channel of its object dictionary.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDumpCmd())
	rootCmd.AddCommand(newInterfacesCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
