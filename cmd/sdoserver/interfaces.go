package main

import (
	"fmt"

	can "github.com/samsamfire/gocanopen-sdo/pkg/can"
	"github.com/spf13/cobra"
)

func newInterfacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interfaces",
		Short: "List the available CAN interface types",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range can.Interfaces() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}
