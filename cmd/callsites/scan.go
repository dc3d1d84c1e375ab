package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/daimatz/callsites/pkg/loader"
	"github.com/daimatz/callsites/pkg/scan"
)

type scanOptions struct {
	format      string
	kinds       []string
	workers     int
	jdk         bool
	strict      bool
	summaryOnly bool
}

func newScanCmd(c *cli) *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "scan [path...]",
		Short: "List the call sites of class files, directories, jars and jmods",
		Long: `Decode every method body and print one row per invoke instruction.

invokedynamic has no declared target and is counted, not listed.

Examples:
  callsites scan build/classes
  callsites scan --kind virtual --kind interface app.jar
  callsites scan --jdk --summary
  CALLSITES_FORMAT=json callsites scan Main.class`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runScan(cmd, args, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.format, "format", "", "Output format: table, json or yaml (env "+envFormat+", default table)")
	f.StringSliceVar(&opts.kinds, "kind", nil, "Only report these dispatch kinds (static, special, virtual, interface)")
	f.IntVar(&opts.workers, "workers", 0, "Classes decoded in parallel (env "+envWorkers+", default GOMAXPROCS)")
	f.BoolVar(&opts.jdk, "jdk", false, "Also scan java.base.jmod (JAVA_BASE_JMOD or JAVA_HOME)")
	f.BoolVar(&opts.strict, "strict", false, "Fail on the first class that cannot be decoded")
	f.BoolVar(&opts.summaryOnly, "summary", false, "Print only the summary")
	return cmd
}

func (c *cli) runScan(cmd *cobra.Command, args []string, opts scanOptions) error {
	format, err := resolveFormat(opts.format)
	if err != nil {
		return err
	}
	workers, err := resolveWorkers(opts.workers, cmd.Flags().Changed("workers"))
	if err != nil {
		return err
	}
	kinds, err := parseKinds(opts.kinds)
	if err != nil {
		return err
	}

	var sources loader.Multi
	for _, path := range args {
		src, err := loader.Open(path)
		if err != nil {
			return errors.Wrap(err, "opening input")
		}
		sources = append(sources, src)
	}
	if opts.jdk {
		jmod := loader.FindJDKModule()
		if jmod == "" {
			return errors.New("could not find java.base.jmod. Set JAVA_HOME or JAVA_BASE_JMOD")
		}
		sources = append(sources, &loader.ArchiveSource{Path: jmod, Jmod: true})
	}
	if len(sources) == 0 {
		return errors.New("nothing to scan: pass a path or --jdk")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	s := &scan.Scanner{Workers: workers, Kinds: kinds, Strict: opts.strict, Logger: c.logger}
	res, err := s.Scan(ctx, sources)
	if err != nil {
		return err
	}
	return writeScan(c.out, format, res, opts.summaryOnly)
}

type siteRow struct {
	Routine string `json:"routine" yaml:"routine"`
	PC      int    `json:"pc" yaml:"pc"`
	Kind    string `json:"kind" yaml:"kind"`
	Target  string `json:"target" yaml:"target"`
}

type failureRow struct {
	Class string `json:"class" yaml:"class"`
	Error string `json:"error" yaml:"error"`
}

type scanReport struct {
	Summary  scan.Summary `json:"summary" yaml:"summary"`
	Sites    []siteRow    `json:"sites,omitempty" yaml:"sites,omitempty"`
	Failures []failureRow `json:"failures,omitempty" yaml:"failures,omitempty"`
}

func newScanReport(res *scan.Result, summaryOnly bool) scanReport {
	r := scanReport{Summary: res.Summary()}
	if !summaryOnly {
		for _, rt := range res.Routines {
			for _, s := range rt.Sites {
				r.Sites = append(r.Sites, siteRow{
					Routine: rt.Method.String(),
					PC:      s.Offset(),
					Kind:    s.InvocationString(),
					Target:  s.DeclaredTarget().String(),
				})
			}
		}
	}
	for _, f := range res.Failures {
		r.Failures = append(r.Failures, failureRow{Class: f.Class, Error: f.Err.Error()})
	}
	return r
}

func writeScan(out io.Writer, format outputFormat, res *scan.Result, summaryOnly bool) error {
	report := newScanReport(res, summaryOnly)
	switch format {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case formatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	}

	if len(report.Sites) > 0 {
		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"Routine", "PC", "Kind", "Target"})
		table.SetAutoWrapText(false)
		for _, r := range report.Sites {
			table.Append([]string{r.Routine, strconv.Itoa(r.PC), r.Kind, r.Target})
		}
		table.Render()
	}
	for _, f := range report.Failures {
		fmt.Fprintf(out, "skipped %s: %s\n", f.Class, f.Error)
	}
	writeSummary(out, report.Summary)
	return nil
}

func writeSummary(out io.Writer, s scan.Summary) {
	n := func(v int) string { return humanize.Comma(int64(v)) }
	fmt.Fprintf(out, "%s classes, %s methods, %s call sites (%s fixed, %s dispatch), %s distinct targets\n",
		n(s.Classes), n(s.Methods), n(s.Sites), n(s.Fixed), n(s.Dispatch), n(s.Targets))
	fmt.Fprintf(out, "static %s, special %s, virtual %s, interface %s, invokedynamic %s skipped\n",
		n(s.ByKind["static"]), n(s.ByKind["special"]), n(s.ByKind["virtual"]), n(s.ByKind["interface"]), n(s.Dynamic))
	if s.Failed > 0 {
		fmt.Fprintf(out, "%s classes could not be decoded\n", n(s.Failed))
	}
}
