package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/nimbus/pkg/cli"
	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/evidence"
	"mercator-hq/nimbus/pkg/evidence/retention"
	evstorage "mercator-hq/nimbus/pkg/evidence/storage"
	"mercator-hq/nimbus/pkg/nimbus"
)

var evidenceFlags struct {
	timeRange string
	kind      string
	objectID  string
	limit     int
	offset    int
	format    string
	output    string
	days      int
	dryRun    bool
}

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Query and maintain the evidence store",
	Long: `Query, report on and prune the evidence store configured under evidence.

Subcommands:
  query  - List evidence records
  report - Summarize deletions for an audit window
  prune  - Delete evidence older than evidence.retention_days

Time Range Format:
  RFC3339 interval format: "start/end"
  Example: "2026-05-01T00:00:00Z/2026-06-01T00:00:00Z"`,
}

var evidenceQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query evidence records",
	Long: `Query evidence records. Payloads stay encrypted.

Examples:
  # Deletion evidence for one object
  nimbus evidence query --kind deletion --object-id nobj_0123

  # Dead letters in May, as JSON
  nimbus evidence query --kind dead_letter --time-range "2026-05-01T00:00:00Z/2026-06-01T00:00:00Z" --format json`,
	RunE: queryEvidence,
}

var evidenceReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a compliance report",
	Long: `Count deletion, dead letter and audit batch evidence in a time range.
Without --time-range the last 30 days are reported.`,
	RunE: reportEvidence,
}

var evidencePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired evidence",
	Long: `Delete evidence recorded more than evidence.retention_days ago.
A retention of 0 keeps evidence forever and prunes nothing.

Examples:
  nimbus evidence prune
  nimbus evidence prune --days 365 --dry-run`,
	RunE: pruneEvidence,
}

func init() {
	rootCmd.AddCommand(evidenceCmd)
	evidenceCmd.AddCommand(evidenceQueryCmd, evidenceReportCmd, evidencePruneCmd)

	evidenceCmd.PersistentFlags().StringVar(&evidenceFlags.format, "format", "text", "output format: text, json")
	evidenceCmd.PersistentFlags().StringVarP(&evidenceFlags.output, "output", "o", "", "output file (default: stdout)")

	evidenceQueryCmd.Flags().StringVar(&evidenceFlags.timeRange, "time-range", "", "time range (RFC3339 interval: start/end)")
	evidenceQueryCmd.Flags().StringVar(&evidenceFlags.kind, "kind", "", "record kind: deletion, dead_letter, audit_batch")
	evidenceQueryCmd.Flags().StringVar(&evidenceFlags.objectID, "object-id", "", "filter by object id")
	evidenceQueryCmd.Flags().IntVar(&evidenceFlags.limit, "limit", 100, "max results")
	evidenceQueryCmd.Flags().IntVar(&evidenceFlags.offset, "offset", 0, "pagination offset")

	evidenceReportCmd.Flags().StringVar(&evidenceFlags.timeRange, "time-range", "", "time range (RFC3339 interval: start/end)")

	evidencePruneCmd.Flags().IntVar(&evidenceFlags.days, "days", 0, "override evidence.retention_days")
	evidencePruneCmd.Flags().BoolVar(&evidenceFlags.dryRun, "dry-run", false, "count the records that would be pruned")
}

// parseTimeRange parses "start/end". An empty value returns nil times.
func parseTimeRange(s string) (start, end *time.Time, err error) {
	if s == "" {
		return nil, nil, nil
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("invalid time range %q: want start/end", s)
	}
	from, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("invalid start time: %w", err)
	}
	to, err := time.Parse(time.RFC3339, parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("invalid end time: %w", err)
	}
	if to.Before(from) {
		return nil, nil, fmt.Errorf("invalid time range %q: end before start", s)
	}
	return &from, &to, nil
}

// evidenceCommand holds what every evidence subcommand needs.
type evidenceCommand struct {
	cfg     *config.Config
	store   evidence.Storage
	format  cli.OutputFormat
	out     io.Writer
	closeFn func() error
}

func openEvidence(cmd *cobra.Command) (*evidenceCommand, error) {
	format, err := cli.ParseFormat(evidenceFlags.format)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := evstorage.Open(cfg.Evidence)
	if err != nil {
		return nil, cli.NewCommandError(cmd.CommandPath(), err)
	}

	ec := &evidenceCommand{cfg: cfg, store: store, format: format, out: cmd.OutOrStdout()}
	ec.closeFn = store.Close
	if evidenceFlags.output != "" {
		// #nosec G304 - user-specified output path is expected for a CLI tool.
		f, err := os.Create(evidenceFlags.output)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create output file: %w", err)
		}
		ec.out = f
		ec.closeFn = func() error {
			return errors.Join(f.Close(), store.Close())
		}
	}
	return ec, nil
}

func (ec *evidenceCommand) print(data any) error {
	return cli.NewFormatter(ec.format).FormatTo(ec.out, data)
}

type recordList struct {
	Query   *evidence.Query    `json:"query"`
	Records []*evidence.Record `json:"records"`
}

func (l *recordList) WriteText(w io.Writer) error {
	if len(l.Records) == 0 {
		_, err := fmt.Fprintln(w, "No evidence records found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tKIND\tOBJECT\tTIER\tMETHOD\tVERIFIED\tDETAIL")
	for _, r := range l.Records {
		detail := r.WitnessHash
		switch r.Kind {
		case evidence.KindDeadLetter:
			detail = fmt.Sprintf("retries=%d %s", r.RetryCount, r.Error)
		case evidence.KindAuditBatch:
			detail = fmt.Sprintf("batch=%s entries=%d", r.BatchID, r.Entries)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			r.RecordedAt.Format(time.RFC3339), r.Kind, r.ObjectID, r.Tier, r.Method, r.Verified, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d records\n", len(l.Records))
	return err
}

func queryEvidence(cmd *cobra.Command, args []string) error {
	start, end, err := parseTimeRange(evidenceFlags.timeRange)
	if err != nil {
		return err
	}
	q := &evidence.Query{
		Kind:      evidence.Kind(evidenceFlags.kind),
		ObjectID:  evidenceFlags.objectID,
		StartTime: start,
		EndTime:   end,
		Limit:     evidenceFlags.limit,
		Offset:    evidenceFlags.offset,
	}
	if err := q.Validate(); err != nil {
		return err
	}

	ec, err := openEvidence(cmd)
	if err != nil {
		return err
	}
	defer ec.closeFn()

	records, err := ec.store.Query(cmd.Context(), q)
	if err != nil {
		return cli.NewCommandError("evidence query", err)
	}
	return ec.print(&recordList{Query: q, Records: records})
}

type reportView struct {
	*nimbus.ComplianceReport
}

func (r reportView) WriteText(w io.Writer) error {
	status := "✓ Compliant"
	if !r.Compliant {
		status = "✗ Not compliant"
	}
	fmt.Fprintln(w, "Nimbus Compliance Report")
	fmt.Fprintf(w, "Window:     %s - %s\n", r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	fmt.Fprintf(w, "Generated:  %s\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Frameworks: %s (audit level %s)\n\n", strings.Join(r.Frameworks, ", "), r.AuditLevel)
	fmt.Fprintf(w, "Deletions:          %d\n", r.Deletions)
	fmt.Fprintf(w, "Verified deletions: %d\n", r.VerifiedDeletions)
	fmt.Fprintf(w, "Dead letters:       %d\n", r.DeadLetters)
	fmt.Fprintf(w, "Audit batches:      %d\n\n", r.AuditBatches)
	_, err := fmt.Fprintln(w, status)
	return err
}

func reportEvidence(cmd *cobra.Command, args []string) error {
	start, end, err := parseTimeRange(evidenceFlags.timeRange)
	if err != nil {
		return err
	}
	if start == nil {
		to := time.Now().UTC()
		from := to.AddDate(0, 0, -30)
		start, end = &from, &to
	}

	ec, err := openEvidence(cmd)
	if err != nil {
		return err
	}
	defer ec.closeFn()

	report, err := nimbus.BuildComplianceReport(cmd.Context(), ec.store, ec.cfg.Compliance, *start, *end)
	if err != nil {
		return cli.NewCommandError("evidence report", err)
	}
	if ec.format == cli.FormatJSON {
		return ec.print(report)
	}
	return ec.print(reportView{report})
}

type pruneResult struct {
	RetentionDays int       `json:"retentionDays"`
	Cutoff        time.Time `json:"cutoff"`
	DryRun        bool      `json:"dryRun"`
	Records       int64     `json:"records"`
}

func (r *pruneResult) WriteText(w io.Writer) error {
	if r.RetentionDays <= 0 {
		_, err := fmt.Fprintln(w, "Retention disabled, nothing pruned")
		return err
	}
	verb := "Pruned"
	if r.DryRun {
		verb = "Would prune"
	}
	_, err := fmt.Fprintf(w, "%s %d records recorded before %s (retention %d days)\n",
		verb, r.Records, r.Cutoff.Format(time.RFC3339), r.RetentionDays)
	return err
}

func pruneEvidence(cmd *cobra.Command, args []string) error {
	ec, err := openEvidence(cmd)
	if err != nil {
		return err
	}
	defer ec.closeFn()

	days := ec.cfg.Evidence.RetentionDays
	if evidenceFlags.days > 0 {
		days = evidenceFlags.days
	}
	pruner := retention.NewPruner(ec.store, &retention.Config{RetentionDays: days})

	result := &pruneResult{RetentionDays: days, DryRun: evidenceFlags.dryRun}
	if days > 0 {
		result.Cutoff = pruner.Cutoff()
	}
	switch {
	case days <= 0:
	case evidenceFlags.dryRun:
		cutoff := result.Cutoff
		result.Records, err = ec.store.Count(cmd.Context(), &evidence.Query{EndTime: &cutoff})
	default:
		result.Records, err = pruner.Prune(cmd.Context())
	}
	if err != nil {
		return cli.NewCommandError("evidence prune", err)
	}
	return ec.print(result)
}
