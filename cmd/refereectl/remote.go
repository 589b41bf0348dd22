package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/refereehq/referee/core/canary"
	"github.com/refereehq/referee/core/loader"
	"github.com/spf13/cobra"
)

func buildSessionCmd(remote *remoteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage editing sessions on the gateway",
	}

	var file string
	create := &cobra.Command{
		Use:   "create",
		Short: "Start a session, optionally from a config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *canary.Config
			if file != "" {
				loaded, err := loader.LoadFile(file)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			sess, err := newClient(remote).CreateSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
			return err
		},
	}
	create.Flags().StringVar(&file, "file", "", "canary config file")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a session state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newClient(remote).GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sess)
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Close a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(remote).DeleteSession(cmd.Context(), args[0])
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List live sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient(remote).ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tREVISION\tVALID\tLAST ACTIVE")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\n", it.ID, displayName(canary.Config{Name: it.ConfigName}), it.Revision, it.Valid, it.LastActive.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(create, get, del, list)
	return cmd
}

func buildLibraryCmd(remote *remoteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Manage saved canary configs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List saved configs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient(remote).ListConfigs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMETRICS\tSOURCES\tREVISION\tUPDATED")
			for _, it := range items {
				sources := strings.Join(it.Sources, ",")
				if sources == "" {
					sources = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n", it.ID, it.Name, it.MetricCount, sources, it.Revision, it.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of configs")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a saved config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := newClient(remote).GetConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := loader.Pretty(entry.Config)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(remote).DeleteConfig(cmd.Context(), args[0])
		},
	}

	open := &cobra.Command{
		Use:   "open <id>",
		Short: "Start a session on a saved config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newClient(remote).OpenConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
			return err
		},
	}

	cmd.AddCommand(list, get, del, open)
	return cmd
}
