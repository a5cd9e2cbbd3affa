package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/venturetrail/resourcesync/pkg/model"
	"github.com/venturetrail/resourcesync/pkg/resolve"
)

// SectionsOptions holds flags for the sections command.
type SectionsOptions struct {
	*RootOptions
	MappingPath string
}

// NewSectionsCommand creates the sections command.
func NewSectionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SectionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sections [title]",
		Short: "Show the section-title rename table",
		Long: `Without arguments, list every canonical section title and its known
legacy spellings. With a title, show its canonical form and the exact
key order record resolution will probe.

Example:
  resourcesync sections
  resourcesync sections "SWOT"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSections(opts, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.MappingPath, "mapping", "", "path to a mapping YAML (overrides config)")

	return cmd
}

func runSections(opts *SectionsOptions, cmd *cobra.Command, args []string) error {
	mapping, err := loadMapping(opts)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		return listSections(opts, cmd, mapping)
	}

	title := args[0]
	resolver := resolve.New(nil, mapping, nil)
	candidates := resolver.CandidateKeys(model.Scope{Section: title})

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"title":      title,
			"canonical":  mapping.Canonicalize(title),
			"candidates": candidates,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "canonical: %s\n", mapping.Canonicalize(title))
	fmt.Fprintln(cmd.OutOrStdout(), "probe order:")
	for i, c := range candidates {
		fmt.Fprintf(cmd.OutOrStdout(), "  %d. %s\n", i+1, c)
	}
	return nil
}

func listSections(opts *SectionsOptions, cmd *cobra.Command, mapping *resolve.Mapping) error {
	if opts.Format == "json" {
		out := make(map[string][]string)
		for _, c := range mapping.Canonicals() {
			out[c] = mapping.LegacySpellings(c)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, c := range mapping.Canonicals() {
		fmt.Fprintln(cmd.OutOrStdout(), c)
		for _, l := range mapping.LegacySpellings(c) {
			fmt.Fprintf(cmd.OutOrStdout(), "  was: %s\n", l)
		}
	}
	return nil
}

func loadMapping(opts *SectionsOptions) (*resolve.Mapping, error) {
	path := opts.MappingPath
	if path == "" && opts.Config != "" {
		cfg, err := LoadConfig(opts.Config)
		if err != nil {
			return nil, err
		}
		path = cfg.Mapping
	}
	if path == "" {
		return resolve.DefaultMapping(), nil
	}
	return resolve.LoadMapping(path)
}
