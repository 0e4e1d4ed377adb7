// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/xuehua-build/xuehua/cmd/xuehua/cli"
	"github.com/xuehua-build/xuehua/lib/archive"
	"github.com/xuehua-build/xuehua/lib/archive/pack"
)

type unpackParams struct {
	cli.Environment
	Input string `flag:"input,i" desc:"archive file (default stdin)"`
}

func unpackCommand(streams cli.Streams) *cli.Command {
	var params unpackParams

	return &cli.Command{
		Name:    "unpack",
		Summary: "Apply an archive to a directory",
		Description: `Decode and verify an archive, then apply its operations to DIR.
DIR is created if it does not exist. Its current contents are the base
the archive is checked against: a create of an existing entry or a
delete of a missing one rejects the archive before anything is written.

Nothing is applied until the whole archive, footer included, has
verified.`,
		Usage: "xuehua archive unpack DIR [flags]",
		Examples: []cli.Example{
			{
				Description: "Unpack from a file",
				Command:     "xuehua archive unpack ./installed -i result.xha",
			},
			{
				Description: "Apply a diff archive on top of an earlier release",
				Command:     "xuehua archive unpack ./installed -i v1-to-v2.xha",
			},
		},
		Flags: func() *pflag.FlagSet {
			params = unpackParams{}
			return cli.FlagsFromParams("unpack", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one directory, got %d arguments", len(args))
			}
			root := args[0]
			session, err := params.Open(streams)
			if err != nil {
				return err
			}
			defer session.Close()

			if err := os.MkdirAll(root, 0o755); err != nil {
				return err
			}
			base, err := pack.ScanTree(ctx, root)
			if err != nil {
				return fmt.Errorf("scanning %s: %w", root, err)
			}
			decoded, err := decodeInput(ctx, streams, params.Input, archive.DecodeOptions{
				Resolver: session,
				Base:     base,
			})
			if err != nil {
				return err
			}
			return pack.Unpack(ctx, root, decoded, pack.UnpackOptions{Logger: session.Logger})
		},
	}
}
