package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/venturetrail/resourcesync/pkg/authws"
	"github.com/venturetrail/resourcesync/pkg/mirror"
	"github.com/venturetrail/resourcesync/pkg/model"
	"github.com/venturetrail/resourcesync/pkg/reconcile"
	"github.com/venturetrail/resourcesync/pkg/resolve"
	"github.com/venturetrail/resourcesync/pkg/session"
	"github.com/venturetrail/resourcesync/pkg/store/rest"
)

// FlushOptions holds flags for the flush command.
type FlushOptions struct {
	*RootOptions
	DryRun  bool
	Owner   string
	Timeout time.Duration
}

// NewFlushCommand creates the flush command.
func NewFlushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FlushOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Push mirrored entries to the remote store",
		Long: `Push every entry the local mirror holds through the normal
find-or-create write path. Entries that already have a remote record
update it; the rest create one. The identity comes from the auth
service, or from --owner for service scripts that act on behalf of a
known account.

Example:
  resourcesync --config ./resourcesync.yaml flush
  resourcesync -c ./resourcesync.yaml flush --dry-run
  resourcesync -c ./resourcesync.yaml flush --owner user-uuid`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlush(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "list what would be pushed without writing")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "push as this account ID instead of asking the auth service")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "overall time budget")

	return cmd
}

func runFlush(opts *FlushOptions, cmd *cobra.Command) error {
	if opts.Config == "" {
		return fmt.Errorf("flush needs a config file: pass --config")
	}
	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return err
	}
	if cfg.Store.BaseURL == "" {
		return fmt.Errorf("config is missing store.base_url")
	}
	if cfg.Mirror.Path == "" {
		return fmt.Errorf("config is missing mirror.path")
	}

	log := newLogger(opts.RootOptions)

	storage, err := mirror.OpenSQLite(cfg.Mirror.Path)
	if err != nil {
		return err
	}
	defer storage.Close()
	m := mirror.New(storage, log)

	entries := m.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "mirror is empty, nothing to flush")
		return nil
	}

	if opts.DryRun {
		for _, e := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "would push %s (kind %s, version %d)\n",
				entryScope(e).String(), e.Metadata.Kind, e.Metadata.Version)
		}
		return nil
	}

	mapping := resolve.DefaultMapping()
	if cfg.Mapping != "" {
		mapping, err = resolve.LoadMapping(cfg.Mapping)
		if err != nil {
			return err
		}
	}

	remote := rest.New(rest.Config{
		BaseURL: cfg.Store.BaseURL,
		Table:   cfg.Store.Table,
		Token:   cfg.Store.Token,
		Logger:  log,
	})
	var provider session.IdentityProvider
	if opts.Owner != "" {
		provider = session.StaticProvider{Identity: &model.Identity{ID: opts.Owner}}
	} else {
		ws, err := authws.New(authws.Config{
			IdentityURL: cfg.Auth.IdentityURL,
			APIKey:      cfg.Auth.APIKey,
		}, log)
		if err != nil {
			return err
		}
		defer ws.Close()
		provider = ws
	}

	gate := session.NewGate(provider, session.Config{}, log)
	defer gate.Close()
	resolver := resolve.New(remote, mapping, log)
	engine := reconcile.New(remote, m, gate, resolver, reconcile.Config{}, log)

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	var pushed, failed int
	for _, e := range entries {
		scope := entryScope(e)
		kind := model.Kind(e.Metadata.Kind)
		if _, err := engine.Persist(ctx, scope, kind, e.Data, ""); err != nil {
			if errors.Is(err, reconcile.ErrAuthRequired) {
				return fmt.Errorf("not signed in: the auth service has no current identity")
			}
			failed++
			log.Warn("flush: push failed", "scope", scope.String(), "error", err)
			continue
		}
		pushed++
		fmt.Fprintf(cmd.OutOrStdout(), "pushed %s (kind %s)\n", scope.String(), kind)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "flushed %d of %d entries\n", pushed, len(entries))
	if failed > 0 {
		return fmt.Errorf("%d entries failed to push", failed)
	}
	return nil
}

func entryScope(e mirror.Entry) model.Scope {
	return model.Scope{
		StepID:    e.Metadata.StepID,
		SubStepID: e.Metadata.SubStepID,
		Section:   e.Metadata.Section,
	}
}
