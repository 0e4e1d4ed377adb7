// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/xuehua-build/xuehua/cmd/xuehua/cli"
	"github.com/xuehua-build/xuehua/lib/archive"
	"github.com/xuehua-build/xuehua/lib/archive/pack"
)

type packParams struct {
	cli.Environment
	EncodeFlags
}

func packCommand(streams cli.Streams) *cli.Command {
	var params packParams

	return &cli.Command{
		Name:    "pack",
		Summary: "Pack a directory into an archive",
		Description: `Walk DIR and write an archive that creates every entry beneath it,
in ascending location order. Regular files, symlinks and directories
are recorded with their permission bits; symlinks are never followed.
Devices, sockets and named pipes are rejected.

When the archive is written to a file, its aggregate digest is printed
on stdout.`,
		Usage: "xuehua archive pack DIR [flags]",
		Examples: []cli.Example{
			{
				Description: "Pack to stdout",
				Command:     "xuehua archive pack ./result > result.xha",
			},
			{
				Description: "Pack with a trained dictionary kept in the store",
				Command:     "xuehua archive pack ./result -o result.xha --dictionary external --dictionary-file headers.dict",
			},
		},
		Flags: func() *pflag.FlagSet {
			params = packParams{}
			return cli.FlagsFromParams("pack", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one directory, got %d arguments", len(args))
			}
			session, err := params.Open(streams)
			if err != nil {
				return err
			}
			defer session.Close()

			options, dictionary, err := params.encodeOptions(ctx, session)
			if err != nil {
				return err
			}
			operations, err := pack.Pack(ctx, args[0], pack.PackOptions{
				Dictionary: dictionary,
				Logger:     session.Logger,
			})
			if err != nil {
				return err
			}
			_, err = params.writeArchive(ctx, streams, session, operations, options)
			return err
		},
	}
}

type diffParams struct {
	cli.Environment
	EncodeFlags
}

func diffCommand(streams cli.Streams) *cli.Command {
	var params diffParams

	return &cli.Command{
		Name:    "diff",
		Summary: "Write an archive that turns one directory into another",
		Description: `Compare BASE and TARGET and write an archive that, applied to a copy
of BASE, leaves it identical to TARGET. The archive deletes every entry
that was removed or changed, then creates every entry that is new or
changed. Entries inside a deleted directory that survive in TARGET are
created again.

Decoding the result requires the base tree; pass --base to decode,
hash and verify, or apply it with unpack, which reads the destination.`,
		Usage: "xuehua archive diff BASE TARGET [flags]",
		Examples: []cli.Example{
			{
				Description: "Ship only what changed between two releases",
				Command:     "xuehua archive diff ./v1 ./v2 -o v1-to-v2.xha",
			},
		},
		Flags: func() *pflag.FlagSet {
			params = diffParams{}
			return cli.FlagsFromParams("diff", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("expected BASE and TARGET directories, got %d arguments", len(args))
			}
			session, err := params.Open(streams)
			if err != nil {
				return err
			}
			defer session.Close()

			options, dictionary, err := params.encodeOptions(ctx, session)
			if err != nil {
				return err
			}
			packOptions := pack.PackOptions{Dictionary: dictionary, Logger: session.Logger}
			base, err := pack.Pack(ctx, args[0], packOptions)
			if err != nil {
				return fmt.Errorf("base: %w", err)
			}
			target, err := pack.Pack(ctx, args[1], packOptions)
			if err != nil {
				return fmt.Errorf("target: %w", err)
			}
			operations, err := pack.Diff(base, target)
			if err != nil {
				return err
			}
			options.Base, err = archive.TreeOf(base)
			if err != nil {
				return err
			}
			session.Logger.Debug("computed diff", "base", len(base), "target", len(target), "operations", len(operations))
			_, err = params.writeArchive(ctx, streams, session, operations, options)
			return err
		},
	}
}
