// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/strmd/strmd/internal/catalog"
	"github.com/strmd/strmd/internal/config"
	"github.com/strmd/strmd/internal/log"
)

var dirsCmd = &cobra.Command{
	Use:   "dirs",
	Short: "manage approved media directories",
}

var dirsAddKind string

func init() {
	dirsAddCmd.Flags().StringVar(&dirsAddKind, "kind", "local", "directory kind: local or remote")
	dirsCmd.AddCommand(dirsListCmd, dirsAddCmd, dirsEnableCmd, dirsDisableCmd)
}

// withStore opens the catalog store for one CLI operation.
func withStore(fn func(ctx context.Context, store *catalog.Store) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	log.Configure(log.Config{Level: "warn"})

	store, err := catalog.Open(cfg.CatalogDBPath, log.WithComponent("catalog"))
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return fn(ctx, store)
}

var dirsListCmd = &cobra.Command{
	Use:   "list",
	Short: "list approved directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store *catalog.Store) error {
			dirs, err := store.ApprovedDirectories(ctx)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"ID", "Path", "Kind", "Active"})
			for _, d := range dirs {
				t.AppendRow(table.Row{d.ID, d.Path, d.Kind, d.Active})
			}
			t.Render()
			return nil
		})
	},
}

var dirsAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "approve a directory for serving",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := catalog.Kind(dirsAddKind)
		if kind != catalog.KindLocal && kind != catalog.KindRemote {
			return fmt.Errorf("invalid kind %q", dirsAddKind)
		}
		return withStore(func(ctx context.Context, store *catalog.Store) error {
			dir, err := store.AddDirectory(ctx, args[0], kind)
			if err != nil {
				return err
			}
			fmt.Printf("added directory %d: %s\n", dir.ID, dir.Path)
			return nil
		})
	},
}

func setActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid directory id %q", args[0])
			}
			return withStore(func(ctx context.Context, store *catalog.Store) error {
				if err := store.SetActive(ctx, id, active); err != nil {
					return err
				}
				fmt.Printf("directory %d active=%v\n", id, active)
				return nil
			})
		},
	}
}

var (
	dirsEnableCmd  = setActiveCmd("enable <id>", "activate an approved directory", true)
	dirsDisableCmd = setActiveCmd("disable <id>", "deactivate an approved directory without deleting it", false)
)
