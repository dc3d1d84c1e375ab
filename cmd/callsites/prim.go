package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/daimatz/callsites/pkg/types"
)

type primRow struct {
	Name      string `json:"name" yaml:"name"`
	ShortName string `json:"short_name,omitempty" yaml:"short_name,omitempty"`
	Known     bool   `json:"known" yaml:"known"`
}

func newPrimCmd(c *cli) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "prim [name...]",
		Short: "Look up JVM primitive types by source name",
		Long: `Print the descriptor letter of each primitive type name, or of every
primitive type when no name is given. Names are case sensitive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := resolveFormat(format)
			if err != nil {
				return err
			}
			return writePrims(c.out, f, args)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Output format: table, json or yaml")
	return cmd
}

func writePrims(out io.Writer, format outputFormat, names []string) error {
	if len(names) == 0 {
		names = types.Primitives().LongNames()
	}
	rows := make([]primRow, len(names))
	unknown := 0
	for i, name := range names {
		short, ok := types.ShortNameOf(name)
		rows[i] = primRow{Name: name, ShortName: short, Known: ok}
		if !ok {
			unknown++
		}
	}

	switch format {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			return err
		}
	case formatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	default:
		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"Name", "Descriptor"})
		for _, r := range rows {
			short := r.ShortName
			if !r.Known {
				short = "-"
			}
			table.Append([]string{r.Name, short})
		}
		table.Render()
	}

	if unknown > 0 {
		return errors.Errorf("%d unknown primitive type name(s)", unknown)
	}
	return nil
}

func newSigCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sig <descriptor>...",
		Short: "Render method descriptors in source form",
		Example: `  callsites sig '(I[Ljava/lang/String;)V'
  void(int, java.lang.String[])`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, desc := range args {
				d, err := types.ParseMethodDescriptor(desc)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, d.Signature())
			}
			return nil
		},
	}
}
