package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/nimbus/pkg/cli"
	"mercator-hq/nimbus/pkg/config"
)

var validateFormat string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load the configuration with environment overrides applied and report
every invalid field.

Examples:
  nimbus validate --config nimbus.yaml
  nimbus validate --format json`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateFormat, "format", "text", "output format: text, json")
}

// tierSummary is one row of the validate output.
type tierSummary struct {
	Name            string   `json:"name"`
	Retention       string   `json:"retention"`
	MaxFileSize     int64    `json:"maxFileSize"`
	OverwritePasses int      `json:"overwritePasses"`
	Features        []string `json:"features,omitempty"`
}

type validateResult struct {
	Valid      bool                `json:"valid"`
	Errors     []config.FieldError `json:"errors,omitempty"`
	Tiers      []tierSummary       `json:"tiers,omitempty"`
	Frameworks []string            `json:"frameworks,omitempty"`
	AuditLevel string              `json:"auditLevel,omitempty"`
}

func (r *validateResult) WriteText(w io.Writer) error {
	if !r.Valid {
		fmt.Fprintln(w, "✗ Configuration invalid")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  - %s\n", e.Error())
		}
		return nil
	}
	fmt.Fprintln(w, "✓ Configuration valid")
	fmt.Fprintf(w, "Compliance: %s (audit level %s)\n", strings.Join(r.Frameworks, ", "), r.AuditLevel)
	for _, t := range r.Tiers {
		fmt.Fprintf(w, "  %-12s retention=%-10s max=%d passes=%d %s\n",
			t.Name, t.Retention, t.MaxFileSize, t.OverwritePasses, strings.Join(t.Features, ","))
	}
	return nil
}

func validateConfig(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(validateFormat)
	if err != nil {
		return err
	}

	result, loadErr := buildValidateResult()
	if result == nil {
		return loadErr
	}
	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	return loadErr
}

func buildValidateResult() (*validateResult, error) {
	cfg, err := loadConfig()
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) {
			return &validateResult{Errors: verr.Errors}, err
		}
		return nil, err
	}

	result := &validateResult{
		Valid:      true,
		Frameworks: cfg.Compliance.Frameworks,
		AuditLevel: cfg.Compliance.AuditLevel,
	}
	names := make([]string, 0, len(cfg.Tiers))
	for name := range cfg.Tiers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		t := cfg.Tiers[name]
		result.Tiers = append(result.Tiers, tierSummary{
			Name:            name,
			Retention:       t.RetentionDuration().String(),
			MaxFileSize:     t.MaxFileSize,
			OverwritePasses: cfg.OverwritePasses(name),
			Features:        t.Features,
		})
	}
	return result, nil
}
