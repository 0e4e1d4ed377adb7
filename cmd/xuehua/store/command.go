// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Package store implements the "xuehua store" CLI subcommands for the
// local artifact store.
//
// Artifacts are referenced by full digest, by short ref (xha-<hex>,
// any unambiguous prefix), or by package name, which resolves to the
// package's newest registration.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/xuehua-build/xuehua/cmd/xuehua/cli"
	"github.com/xuehua-build/xuehua/lib/archive"
	"github.com/xuehua-build/xuehua/lib/store"
)

// Command returns the "store" command with all subcommands.
func Command(streams cli.Streams) *cli.Command {
	return &cli.Command{
		Name:    "store",
		Summary: "Register and fetch archives in the local store",
		Description: `Manage the local store: verified archives indexed by aggregate
digest, named package registrations pointing at them, and the
dictionaries external dictionary references resolve to.

Only archives that decode on their own are accepted, so an archive
that deletes entries it did not create cannot be registered.`,
		Subcommands: []*cli.Command{
			registerCommand(streams),
			listCommand(streams),
			showCommand(streams),
			getCommand(streams),
		},
		Examples: []cli.Example{
			{
				Description: "Register a build as the newest version of a package",
				Command:     "xuehua store register result.xha --package hello",
			},
			{
				Description: "Unpack the newest registration of a package",
				Command:     "xuehua store get hello | xuehua archive unpack ./hello",
			},
		},
	}
}

// lookup resolves id as an artifact reference, then as a package name.
// An ambiguous short ref is reported rather than read as a name.
func lookup(ctx context.Context, st *store.Store, id string) (store.Artifact, error) {
	artifact, err := st.Artifact(ctx, id)
	if err == nil || errors.Is(err, store.ErrAmbiguous) {
		return artifact, err
	}
	entry, packageErr := st.Package(ctx, id)
	switch {
	case packageErr == nil:
		return entry.Artifact, nil
	case errors.Is(packageErr, store.ErrNotFound):
		return store.Artifact{}, fmt.Errorf("%q is neither a stored artifact nor a package: %w", id, store.ErrNotFound)
	default:
		return store.Artifact{}, packageErr
	}
}

// formatSize returns a human-readable size.
func formatSize(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// --- register ---

type registerParams struct {
	cli.Environment
	cli.Output
	Package string `flag:"package,p" desc:"also register the archive as the newest version of this package"`
}

type registerResult struct {
	Artifact store.Artifact      `json:"artifact" cbor:"artifact"`
	Package  *store.PackageEntry `json:"package,omitempty" cbor:"package,omitempty"`
}

func registerCommand(streams cli.Streams) *cli.Command {
	var params registerParams

	return &cli.Command{
		Name:    "register",
		Summary: "Verify an archive and add it to the store",
		Description: `Decode and verify an archive and store it under its aggregate
digest. Registering an archive that is already stored returns the
existing record. FILE defaults to stdin.`,
		Usage: "xuehua store register [FILE] [flags]",
		Flags: func() *pflag.FlagSet {
			params = registerParams{}
			return cli.FlagsFromParams("register", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("expected at most one archive file, got %d arguments", len(args))
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			session, err := params.Open(streams)
			if err != nil {
				return err
			}
			defer session.Close()
			st, err := session.Store(ctx)
			if err != nil {
				return err
			}

			input, err := cli.OpenInput(streams, path)
			if err != nil {
				return err
			}
			defer input.Close()
			artifact, err := st.RegisterArtifact(ctx, input)
			if err != nil {
				return err
			}
			result := registerResult{Artifact: artifact}
			if params.Package != "" {
				id := artifact.Digest.String()
				entry, err := st.RegisterPackage(ctx, params.Package, id)
				if err != nil {
					return err
				}
				result.Package = &entry
			}

			if done, err := params.Emit(streams.Out, result); done {
				return err
			}
			fmt.Fprintln(streams.Out, archive.FormatRef(artifact.Digest))
			return nil
		},
	}
}

// --- list ---

type listParams struct {
	cli.Environment
	cli.Output
	Packages bool `flag:"packages" desc:"list packages and their newest artifact instead of every artifact"`
}

func listCommand(streams cli.Streams) *cli.Command {
	var params listParams

	return &cli.Command{
		Name:    "list",
		Summary: "List stored artifacts or packages",
		Usage:   "xuehua store list [flags]",
		Flags: func() *pflag.FlagSet {
			params = listParams{}
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			session, err := params.Open(streams)
			if err != nil {
				return err
			}
			defer session.Close()
			st, err := session.Store(ctx)
			if err != nil {
				return err
			}

			writer := tabwriter.NewWriter(streams.Out, 2, 0, 3, ' ', 0)
			if params.Packages {
				entries, err := st.Packages(ctx)
				if err != nil {
					return err
				}
				if done, err := params.Emit(streams.Out, entries); done {
					return err
				}
				fmt.Fprintln(writer, "PACKAGE\tARTIFACT\tREGISTERED")
				for _, entry := range entries {
					fmt.Fprintf(writer, "%s\t%s\t%s\n", entry.Name, archive.FormatRef(entry.Artifact.Digest), entry.RegisteredAt.Format(time.RFC3339))
				}
				return writer.Flush()
			}

			artifacts, err := st.Artifacts(ctx)
			if err != nil {
				return err
			}
			if done, err := params.Emit(streams.Out, artifacts); done {
				return err
			}
			fmt.Fprintln(writer, "ARTIFACT\tSIZE\tOPERATIONS\tSIGNERS\tCREATED")
			for _, artifact := range artifacts {
				fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%s\n",
					archive.FormatRef(artifact.Digest),
					formatSize(artifact.Size),
					artifact.Operations,
					len(artifact.Summary.Signers),
					artifact.CreatedAt.Format(time.RFC3339),
				)
			}
			return writer.Flush()
		},
	}
}

// --- show ---

type showParams struct {
	cli.Environment
	cli.Output
}

func showCommand(streams cli.Streams) *cli.Command {
	var params showParams

	return &cli.Command{
		Name:    "show",
		Summary: "Print a stored artifact's record",
		Usage:   "xuehua store show ID [flags]",
		Flags: func() *pflag.FlagSet {
			params = showParams{}
			return cli.FlagsFromParams("show", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one artifact reference, got %d arguments", len(args))
			}
			session, err := params.Open(streams)
			if err != nil {
				return err
			}
			defer session.Close()
			st, err := session.Store(ctx)
			if err != nil {
				return err
			}
			artifact, err := lookup(ctx, st, args[0])
			if err != nil {
				return err
			}
			if done, err := params.Emit(streams.Out, artifact); done {
				return err
			}

			writer := tabwriter.NewWriter(streams.Out, 2, 0, 2, ' ', 0)
			fmt.Fprintf(writer, "digest:\t%s\n", artifact.Digest)
			fmt.Fprintf(writer, "size:\t%s\n", formatSize(artifact.Size))
			fmt.Fprintf(writer, "operations:\t%d (%d creates, %d deletes)\n", artifact.Operations, artifact.Summary.Creates, artifact.Summary.Deletes)
			fmt.Fprintf(writer, "index:\t%s\n", artifact.Summary.IndexDigest)
			fmt.Fprintf(writer, "created:\t%s\n", artifact.CreatedAt.Format(time.RFC3339))
			for _, signer := range artifact.Summary.Signers {
				fmt.Fprintf(writer, "signer:\t%s\n", signer)
			}
			return writer.Flush()
		},
	}
}

// --- get ---

type getParams struct {
	cli.Environment
	Output string `flag:"output,o" desc:"write the archive here (default stdout)"`
}

func getCommand(streams cli.Streams) *cli.Command {
	var params getParams

	return &cli.Command{
		Name:    "get",
		Summary: "Write a stored archive",
		Description: `Copy the stored archive bytes for ID to stdout or -o. The bytes are
exactly those registered, so the output decodes to the same aggregate
digest and carries the same signatures.`,
		Usage: "xuehua store get ID [flags]",
		Flags: func() *pflag.FlagSet {
			params = getParams{}
			return cli.FlagsFromParams("get", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one artifact reference, got %d arguments", len(args))
			}
			session, err := params.Open(streams)
			if err != nil {
				return err
			}
			defer session.Close()
			st, err := session.Store(ctx)
			if err != nil {
				return err
			}
			artifact, err := lookup(ctx, st, args[0])
			if err != nil {
				return err
			}
			blob, _, err := st.Blob(ctx, artifact.Digest.String())
			if err != nil {
				return err
			}
			defer blob.Close()

			output, err := cli.CreateOutput(streams, params.Output)
			if err != nil {
				return err
			}
			written, err := io.Copy(output, blob)
			if closeErr := output.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				if params.Output != "" && params.Output != "-" {
					os.Remove(params.Output)
				}
				return err
			}
			session.Logger.Debug("wrote artifact", "ref", archive.FormatRef(artifact.Digest), "bytes", written)
			return nil
		},
	}
}
