// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete xuehua CLI command tree.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	archivecmd "github.com/xuehua-build/xuehua/cmd/xuehua/archive"
	"github.com/xuehua-build/xuehua/cmd/xuehua/cli"
	dictcmd "github.com/xuehua-build/xuehua/cmd/xuehua/dict"
	keycmd "github.com/xuehua-build/xuehua/cmd/xuehua/key"
	storecmd "github.com/xuehua-build/xuehua/cmd/xuehua/store"
	"github.com/xuehua-build/xuehua/lib/version"
)

// Root builds the command tree. Every command reads and writes
// through streams.
func Root(streams cli.Streams) *cli.Command {
	return &cli.Command{
		Name: "xuehua",
		Description: `Xuehua: signed, content-addressed archives of directory trees.

Pack a directory into a verifiable stream of operations, sign it,
keep it in a local store, and apply it elsewhere once every digest
and signature has checked out.`,
		Subcommands: []*cli.Command{
			archivecmd.Command(streams),
			keycmd.Command(streams),
			dictcmd.Command(streams),
			storecmd.Command(streams),
			versionCommand(streams),
		},
		Examples: []cli.Example{
			{
				Description: "Create a signing key",
				Command:     "xuehua key generate ~/.config/xuehua --name release",
			},
			{
				Description: "Pack and sign a directory",
				Command:     "xuehua archive pack ./result -o result.xha --key ~/.config/xuehua/release",
			},
			{
				Description: "Verify and apply it on another machine",
				Command:     "xuehua archive verify -i result.xha --trusted release.pub && xuehua archive unpack ./installed -i result.xha",
			},
		},
	}
}

type versionParams struct {
	cli.Output
}

func versionCommand(streams cli.Streams) *cli.Command {
	var params versionParams

	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Flags: func() *pflag.FlagSet {
			params = versionParams{}
			return cli.FlagsFromParams("version", &params)
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			if done, err := params.Emit(streams.Out, version.Current()); done {
				return err
			}
			_, err := fmt.Fprintf(streams.Out, "xuehua %s\n", version.Full())
			return err
		},
	}
}
