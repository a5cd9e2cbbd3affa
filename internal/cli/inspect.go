package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/venturetrail/resourcesync/pkg/mirror"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	MirrorPath string
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the entries held in the local mirror",
		Long: `List every save the local mirror holds, with scope, kind, version
and timestamp. Useful after an outage to see what content exists only
locally.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MirrorPath, "mirror", "", "path to the mirror database (overrides config)")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	path := opts.MirrorPath
	if path == "" && opts.Config != "" {
		cfg, err := LoadConfig(opts.Config)
		if err != nil {
			return err
		}
		path = cfg.Mirror.Path
	}
	if path == "" {
		return fmt.Errorf("no mirror path: pass --mirror or set mirror.path in the config")
	}

	storage, err := mirror.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer storage.Close()

	entries := mirror.New(storage, newLogger(opts.RootOptions)).Entries()

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "mirror is empty")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSUB-STEP\tSECTION\tKIND\tVERSION\tSAVED AT")
	for _, e := range entries {
		md := e.Metadata
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			md.StepID, md.SubStepID, md.Section, md.Kind, md.Version,
			md.SavedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
