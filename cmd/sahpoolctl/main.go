// Command sahpoolctl administers a Strategy A (opfs-sahpool) pool
// living on local disk, outside of any running engine process: capacity
// changes, database import/export, and path unlinking — the
// side-band operations spec §4.3.6 exposes on the wrapped database
// rather than through the VFS itself.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tursodatabase/oosvfs/objectstore/diskstore"
	"github.com/tursodatabase/oosvfs/vfs/sahpool"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var root string

	cmd := &cobra.Command{
		Use:   "sahpoolctl",
		Short: "Administer an opfs-sahpool pool stored on local disk",
	}
	cmd.PersistentFlags().StringVar(&root, "root", ".", "directory holding the pool's private subdirectory")
	cmd.PersistentFlags().Int("capacity", sahpool.DefaultCapacity, "default pool capacity on first init")
	cmd.PersistentFlags().String("dir", sahpool.DefaultDir, "pool's private subdirectory name")
	cmd.PersistentFlags().Int("verbose", 0, "opfs-verbose level, 0-3")
	v.BindPFlag("opfs-sahpool.defaultCapacity", cmd.PersistentFlags().Lookup("capacity"))
	v.BindPFlag("opfs-sahpool.dir", cmd.PersistentFlags().Lookup("dir"))
	v.BindPFlag("opfs-verbose", cmd.PersistentFlags().Lookup("verbose"))

	open := func() (*sahpool.Pool, error) {
		cfg, err := sahpool.LoadConfig(v)
		if err != nil {
			return nil, err
		}
		store := diskstore.New(root)
		pool, err := sahpool.Open(context.Background(), store, cfg.Dir, cfg.DefaultCapacity)
		if err != nil {
			return nil, err
		}
		pool.SetVerbosity(cfg.Verbose)
		return pool, nil
	}

	cmd.AddCommand(newStatCmd(open))
	cmd.AddCommand(newAddCapacityCmd(open))
	cmd.AddCommand(newReduceCapacityCmd(open))
	cmd.AddCommand(newImportCmd(open))
	cmd.AddCommand(newExportCmd(open))
	cmd.AddCommand(newUnlinkCmd(open))
	return cmd
}

func newStatCmd(open func() (*sahpool.Pool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "Print the pool's capacity and associated-file count",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := open()
			if err != nil {
				return err
			}
			defer pool.Close()
			s := pool.Stats()
			fmt.Printf("capacity=%d free=%d associated=%d\n", s.Capacity, s.Free, s.Associated)
			return nil
		},
	}
}

func newAddCapacityCmd(open func() (*sahpool.Pool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "add-capacity N",
		Short: "Create N additional backing slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseCount(args[0])
			if err != nil {
				return err
			}
			pool, err := open()
			if err != nil {
				return err
			}
			defer pool.Close()
			return pool.AddCapacity(cmd.Context(), n)
		},
	}
}

func newReduceCapacityCmd(open func() (*sahpool.Pool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "reduce-capacity N",
		Short: "Remove up to N free (unassociated) backing slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseCount(args[0])
			if err != nil {
				return err
			}
			pool, err := open()
			if err != nil {
				return err
			}
			defer pool.Close()
			removed, err := pool.ReduceCapacity(cmd.Context(), n)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d slot(s)\n", removed)
			return nil
		},
	}
}

func newImportCmd(open func() (*sahpool.Pool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "import PATH FILE",
		Short: "Import FILE's bytes as PATH's database contents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			pool, err := open()
			if err != nil {
				return err
			}
			defer pool.Close()
			return pool.ImportDB(args[0], data)
		},
	}
}

func newExportCmd(open func() (*sahpool.Pool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "export PATH FILE",
		Short: "Write PATH's raw database contents to FILE",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := open()
			if err != nil {
				return err
			}
			defer pool.Close()
			data, err := pool.ExportDB(args[0])
			if err != nil {
				return err
			}
			return os.WriteFile(args[1], data, 0o600)
		},
	}
}

func newUnlinkCmd(open func() (*sahpool.Pool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink PATH",
		Short: "Dissociate PATH, returning its slot to the free set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := open()
			if err != nil {
				return err
			}
			defer pool.Close()
			return pool.Unlink(args[0])
		},
	}
}

func parseCount(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("sahpoolctl: %q is not a positive integer", s)
	}
	return n, nil
}
