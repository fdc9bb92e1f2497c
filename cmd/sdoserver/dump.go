package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/samsamfire/gocanopen-sdo/pkg/od"
	"github.com/spf13/cobra"
)

func dumpDictionary(w io.Writer, odict *od.ObjectDictionary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tSUB\tACCESS\tNAME\tVALUE")
	for _, index := range odict.Indexes() {
		entry := odict.Index(index)
		for _, variable := range entry.Variables() {
			value, err := od.DecodeToString(variable.Bytes(), variable.DataType, 10)
			if err != nil {
				value = fmt.Sprintf("<%v>", err)
			}
			name := variable.Name
			if entry.ObjectType != od.ObjectTypeVAR && entry.ObjectType != od.ObjectTypeDOMAIN {
				name = entry.Name + " / " + variable.Name
			}
			fmt.Fprintf(tw, "x%04x\t%d\t%s\t%s\t%s\n", index, variable.SubIndex, od.DecodeAttribute(variable.Attribute), name, value)
		}
	}
	return tw.Flush()
}

func newDumpCmd() *cobra.Command {
	var eds string
	var nodeId int
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the object dictionary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if nodeId < 1 || nodeId > 127 {
				return fmt.Errorf("node id must be between 1 and 127, got %d", nodeId)
			}
			odict, err := loadDictionary(eds, uint8(nodeId))
			if err != nil {
				return err
			}
			return dumpDictionary(cmd.OutOrStdout(), odict)
		},
	}
	cmd.Flags().StringVarP(&eds, "eds", "p", "", "EDS file path, embedded dictionary if empty")
	cmd.Flags().IntVarP(&nodeId, "node-id", "n", 0x10, "node id used for $NODEID")
	return cmd
}
