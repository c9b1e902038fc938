package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/bucketfs/bucketfs/internal/namespace"
	"github.com/bucketfs/bucketfs/internal/vfs"
)

var (
	catOffset int64
	catLength int64
	lsLong    bool
)

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show how a virtual path resolves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := inspectFS(cmd)
			if err != nil {
				return err
			}
			return runStat(cmd.Context(), fsys, cmd.OutOrStdout(), args[0])
		},
	}
}

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a virtual directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := inspectFS(cmd)
			if err != nil {
				return err
			}
			p := "/"
			if len(args) == 1 {
				p = args[0]
			}
			return runLs(cmd.Context(), fsys, cmd.OutOrStdout(), p, lsLong)
		},
	}
	cmd.Flags().BoolVarP(&lsLong, "long", "L", false, "show kind and size of each entry")
	return cmd
}

func newCatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Write a file's contents to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := inspectFS(cmd)
			if err != nil {
				return err
			}
			return runCat(cmd.Context(), fsys, cmd.OutOrStdout(), args[0], catOffset, catLength)
		},
	}
	cmd.Flags().Int64Var(&catOffset, "offset", 0, "byte offset to start reading at")
	cmd.Flags().Int64Var(&catLength, "length", -1, "number of bytes to read (-1 reads to the end)")
	return cmd
}

func inspectFS(cmd *cobra.Command) (*vfs.FS, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	setupLogging()
	fsys, _, err := buildFS(cfg, nil)
	return fsys, err
}

func runStat(ctx context.Context, fsys *vfs.FS, out io.Writer, p string) error {
	entry, err := fsys.Resolve(ctx, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "path: %s\n", entry.Path)
	fmt.Fprintf(out, "kind: %s\n", entry.Kind)
	if entry.Kind == namespace.File {
		fmt.Fprintf(out, "size: %d (%s)\n", entry.Size, units.BytesSize(float64(entry.Size)))
	}
	return nil
}

func runLs(ctx context.Context, fsys *vfs.FS, out io.Writer, p string, long bool) error {
	names, err := fsys.List(ctx, p)
	if err != nil {
		return err
	}
	if !long {
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	base := namespace.Parse(p)
	for _, name := range names {
		if name == namespace.SelfEntry || name == namespace.ParentEntry {
			fmt.Fprintf(w, "%s\t%s\t\n", namespace.Directory, name)
			continue
		}
		entry, err := fsys.Resolve(ctx, base.Join(name).String())
		if err != nil {
			return err
		}
		switch entry.Kind {
		case namespace.File:
			fmt.Fprintf(w, "%s\t%s\t%s\n", entry.Kind, name, units.HumanSize(float64(entry.Size)))
		case namespace.Directory:
			fmt.Fprintf(w, "%s\t%s\t\n", entry.Kind, name)
		}
	}
	return w.Flush()
}

func runCat(ctx context.Context, fsys *vfs.FS, out io.Writer, p string, offset, length int64) error {
	reader, err := fsys.OpenReader(ctx, p)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	data, err := reader.ReadAtOffset(offset, length)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
