package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/refereehq/referee/core/canary"
	"github.com/refereehq/referee/core/editor"
	"github.com/refereehq/referee/core/infra/config"
	"github.com/refereehq/referee/core/loader"
	"github.com/spf13/cobra"
)

func buildNewCmd() *cobra.Command {
	var (
		name         string
		defaultsPath string
	)
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Print a blank canary config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults, err := config.LoadEditorDefaults(defaultsPath)
			if err != nil {
				return err
			}
			cfg := canary.NewConfig(defaults.Template)
			cfg.Name = name
			data, err := loader.Pretty(cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "config name")
	cmd.Flags().StringVar(&defaultsPath, "defaults", envOr("EDITOR_DEFAULTS_PATH", "config/editor.yaml"), "editor defaults file")
	return cmd
}

func buildValidateCmd() *cobra.Command {
	var (
		watch    bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a canary config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return watchFile(ctx, cmd.OutOrStdout(), args[0], debounce)
			}
			cfg, err := loader.LoadFile(args[0])
			if err != nil {
				return err
			}
			if !report(cmd.OutOrStdout(), editor.New(*cfg)) {
				return errInvalid
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "revalidate whenever the file changes")
	cmd.Flags().DurationVar(&debounce, "debounce", loader.DefaultDebounce, "delay before revalidating after a change")
	return cmd
}

func watchFile(ctx context.Context, out io.Writer, path string, debounce time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store := editor.New(canary.NewConfig(canary.Template{}))
	store.MarkHasTheCopyOrSaveButtonBeenClickedFlagAsTrue()
	if loader.Apply(store, func() (*canary.Config, error) { return loader.LoadFile(path) }, func(err error) {
		fmt.Fprintln(out, err)
	}) {
		report(out, store)
	}
	err := loader.Watch(ctx, path, debounce, func(cfg *canary.Config) {
		store.SetCanaryConfigObject(*cfg)
		fmt.Fprintf(out, "--- %s reloaded\n", path)
		report(out, store)
	}, func(err error) {
		fmt.Fprintln(out, err)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// report prints the validation result and whether the document is valid.
func report(w io.Writer, store *editor.Store) bool {
	errs := store.Errors()
	if len(errs) == 0 {
		fmt.Fprintf(w, "%s: valid\n", displayName(store.CanaryConfig()))
		return true
	}
	fmt.Fprintf(w, "%s: %d errors\n", displayName(store.CanaryConfig()), len(errs))
	codes := store.ErrorCodes()
	for _, field := range editor.SortedFields(errs) {
		fmt.Fprintf(w, "  %s [%s] %s\n", field, codes[field], errs[field])
	}
	return false
}

func displayName(cfg canary.Config) string {
	if cfg.Name == "" {
		return "(unnamed)"
	}
	return cfg.Name
}

func buildWeightsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "weights <file>",
		Short: "Print the effective group weights of a canary config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loader.LoadFile(args[0])
			if err != nil {
				return err
			}
			store := editor.New(*cfg)
			weights := store.ComputedGroupWeights()
			explicit := cfg.Classifier.GroupWeights
			groups := make([]string, 0, len(weights))
			for g := range weights {
				groups = append(groups, g)
			}
			sort.Strings(groups)
			out := cmd.OutOrStdout()
			for _, g := range groups {
				source := "computed"
				if _, ok := explicit[g]; ok {
					source = "explicit"
				}
				fmt.Fprintf(out, "%-24s %8.2f  %s\n", g, weights[g], source)
			}
			return nil
		},
	}
}

// buildClipboardCmd loads a config from the clipboard, or copies a file to
// it. A nil clip uses the system clipboard.
func buildClipboardCmd(clip loader.ClipboardIO) *cobra.Command {
	var copyFile string
	cmd := &cobra.Command{
		Use:   "clipboard",
		Short: "Validate the canary config on the clipboard, or copy one to it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var loadErr error
			cb := loader.NewClipboard(clip, func(err error) { loadErr = err })
			if copyFile != "" {
				cfg, err := loader.LoadFile(copyFile)
				if err != nil {
					return err
				}
				if err := cb.Copy(*cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "copied %s\n", displayName(*cfg))
				return nil
			}
			cfg := <-cb.Load(cmd.Context())
			if cfg == nil {
				return loadErr
			}
			if !report(cmd.OutOrStdout(), editor.New(*cfg)) {
				return errInvalid
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&copyFile, "copy", "", "copy this config file to the clipboard")
	return cmd
}
