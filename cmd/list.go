package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facevote/internal/faceset"
)

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the labels in the encodings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.stage = "Failed to list encodings"
			if err := a.runList(); err != nil {
				return err
			}
			a.stage = ""
			return nil
		},
	}
}

func (a *app) runList() error {
	set, err := faceset.Load(a.cfg.Encodings())
	if err != nil {
		return err
	}

	labels := set.Summary()
	if len(labels) == 0 {
		a.printf("No faces enrolled in %s.\n", a.cfg.Encodings())
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tEMBEDDINGS")
	fmt.Fprintln(w, "-----\t----------")
	for _, l := range labels {
		fmt.Fprintf(w, "%s\t%d\n", l.Name, l.Count)
	}
	w.Flush()
	a.printf("\n%d label(s), %d embedding(s) of dimension %d\n", len(labels), set.Len(), set.Dim())
	return nil
}
