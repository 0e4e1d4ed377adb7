// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Package dict implements the "xuehua dict" CLI subcommands for
// training compression dictionaries and adding them to the store.
package dict

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/xuehua-build/xuehua/cmd/xuehua/cli"
	"github.com/xuehua-build/xuehua/lib/archive"
	"github.com/xuehua-build/xuehua/lib/archive/pack"
)

// Command returns the "dict" command with all subcommands.
func Command(streams cli.Streams) *cli.Command {
	return &cli.Command{
		Name:    "dict",
		Summary: "Train and store compression dictionaries",
		Description: `Manage zstd dictionaries for archive file bodies.

A dictionary primes the compressor with content typical of the files
being packed, which pays off for many small, similar files. Archives
either carry the dictionary inline or name it by digest; named
dictionaries are resolved from the store when decoding.`,
		Subcommands: []*cli.Command{
			trainCommand(streams),
			addCommand(streams),
		},
		Examples: []cli.Example{
			{
				Description: "Train on a tree of headers and keep the result in the store",
				Command:     "xuehua dict train ./include -o headers.dict && xuehua dict add headers.dict",
			},
		},
	}
}

type trainParams struct {
	cli.Environment
	Output  string `flag:"output,o" desc:"dictionary file (default stdout)"`
	MaxSize int    `flag:"max-size" desc:"largest dictionary to build, in bytes (zstd's default)" default:"112640"`
}

func trainCommand(streams cli.Streams) *cli.Command {
	var params trainParams

	return &cli.Command{
		Name:    "train",
		Summary: "Train a dictionary from sample files",
		Description: `Build a trained zstd dictionary from the given files. A directory
contributes every regular file beneath it. The result never exceeds
--max-size. Samples too small or too uniform to train on produce a
raw-content dictionary instead, which compresses and decodes the same
way.`,
		Usage: "xuehua dict train FILE|DIR... [flags]",
		Flags: func() *pflag.FlagSet {
			params = trainParams{}
			return cli.FlagsFromParams("train", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one sample file or directory is required")
			}
			session, err := params.Open(streams)
			if err != nil {
				return err
			}
			defer session.Close()

			samples, err := collectSamples(ctx, args)
			if err != nil {
				return err
			}
			dictionary, err := archive.TrainDictionary(samples, params.MaxSize)
			if err != nil {
				return err
			}

			output, err := cli.CreateOutput(streams, params.Output)
			if err != nil {
				return err
			}
			if _, err := output.Write(dictionary); err != nil {
				output.Close()
				return err
			}
			if err := output.Close(); err != nil {
				return err
			}
			session.Logger.Info("trained dictionary",
				"dictionary", archive.FormatRef(archive.DictionaryDigest(dictionary)),
				"samples", len(samples),
				"size", len(dictionary),
			)
			return nil
		},
	}
}

func collectSamples(ctx context.Context, paths []string) ([][]byte, error) {
	var samples [][]byte
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			contents, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			samples = append(samples, contents)
			continue
		}
		operations, err := pack.Pack(ctx, path, pack.PackOptions{})
		if err != nil {
			return nil, err
		}
		for _, op := range operations {
			if file, ok := op.Body.(archive.File); ok && len(file.Contents) > 0 {
				samples = append(samples, file.Contents)
			}
		}
	}
	return samples, nil
}

type addParams struct {
	cli.Environment
}

func addCommand(streams cli.Streams) *cli.Command {
	var params addParams

	return &cli.Command{
		Name:    "add",
		Summary: "Add a dictionary to the store",
		Description: `Copy a dictionary into the store and print its digest. Archives
packed with --dictionary external name the dictionary by this digest,
and decoding them looks it up in the store. Adding the same dictionary
again is a no-op.`,
		Usage: "xuehua dict add FILE [flags]",
		Flags: func() *pflag.FlagSet {
			params = addParams{}
			return cli.FlagsFromParams("add", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one dictionary file, got %d arguments", len(args))
			}
			dictionary, err := os.ReadFile(args[0])
			if err != nil {
				return err
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
			digest, err := st.PutDictionary(ctx, dictionary)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(streams.Out, digest)
			return err
		},
	}
}
