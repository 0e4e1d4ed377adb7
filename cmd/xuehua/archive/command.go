// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive implements the "xuehua archive" CLI subcommands:
// packing directories into archives, applying archives to directories,
// and inspecting, hashing and verifying archive streams.
//
// Archives are read from stdin and written to stdout unless -i or -o
// names a file, so commands compose in pipelines:
//
//	xuehua archive pack ./out | xuehua archive verify --trusted ci.pub
package archive

import (
	"context"
	"fmt"
	"os"

	"github.com/xuehua-build/xuehua/cmd/xuehua/cli"
	"github.com/xuehua-build/xuehua/lib/archive"
	"github.com/xuehua-build/xuehua/lib/archive/pack"
)

// Command returns the "archive" command with all subcommands.
func Command(streams cli.Streams) *cli.Command {
	return &cli.Command{
		Name:    "archive",
		Summary: "Pack, unpack, inspect and verify archives",
		Description: `Work with xuehua archives.

An archive is a signed, ordered stream of create and delete operations
over a directory tree. Every operation carries a BLAKE3 digest and the
footer signs the aggregate of all of them, so a decoded archive is
either fully verified or rejected.`,
		Subcommands: []*cli.Command{
			packCommand(streams),
			unpackCommand(streams),
			diffCommand(streams),
			decodeCommand(streams),
			hashCommand(streams),
			verifyCommand(streams),
		},
		Examples: []cli.Example{
			{
				Description: "Pack a build output and sign it",
				Command:     "xuehua archive pack ./result -o result.xha --key ~/.config/xuehua/ci",
			},
			{
				Description: "Apply an archive to an empty directory",
				Command:     "xuehua archive unpack ./installed -i result.xha",
			},
			{
				Description: "Check that a trusted key signed an archive",
				Command:     "xuehua archive verify -i result.xha --trusted ci.pub",
			},
		},
	}
}

// EncodeFlags are the flags shared by commands that write archives.
// Zero values fall back to the configuration.
type EncodeFlags struct {
	Output         string `flag:"output,o" desc:"archive file (default stdout)"`
	Key            string `flag:"key" desc:"private key to sign with (default signing.key)"`
	Dictionary     string `flag:"dictionary" desc:"dictionary mode: none, inline or external (default compression.dictionary)"`
	DictionaryFile string `flag:"dictionary-file" desc:"dictionary to compress with (default compression.dictionary_file)"`
	Level          int    `flag:"level" desc:"zstd level, 1 through 22 (default compression.level)"`
	Concurrency    int    `flag:"concurrency" desc:"operations compressed in parallel (default compression.concurrency)"`
}

// encodeOptions builds the encoder options and the dictionary
// reference to attach to file bodies. An external dictionary is also
// added to the store, so the archive can be decoded later.
func (f *EncodeFlags) encodeOptions(ctx context.Context, session *cli.Session) (archive.EncodeOptions, archive.DictionaryRef, error) {
	compression := session.Config.Compression
	level := compression.Level
	if f.Level != 0 {
		level = f.Level
	}
	if level < 0 || level > 22 {
		return archive.EncodeOptions{}, archive.DictionaryRef{}, fmt.Errorf("--level must be between 1 and 22, got %d", level)
	}
	concurrency := compression.Concurrency
	if f.Concurrency != 0 {
		concurrency = f.Concurrency
	}

	signers, err := session.Signers(f.Key)
	if err != nil {
		return archive.EncodeOptions{}, archive.DictionaryRef{}, err
	}
	options := archive.EncodeOptions{
		Level:       level,
		Concurrency: concurrency,
		Signers:     signers,
	}

	mode := compression.Dictionary
	if f.Dictionary != "" {
		mode = f.Dictionary
	}
	kind, err := archive.ParseDictionaryKind(mode)
	if err != nil {
		return archive.EncodeOptions{}, archive.DictionaryRef{}, err
	}
	if kind == archive.DictionaryNone {
		return options, archive.NoDictionary(), nil
	}

	path := compression.DictionaryFile
	if f.DictionaryFile != "" {
		path = f.DictionaryFile
	}
	if path == "" {
		return archive.EncodeOptions{}, archive.DictionaryRef{}, fmt.Errorf("--dictionary %s requires --dictionary-file", mode)
	}
	dictionary, err := os.ReadFile(path)
	if err != nil {
		return archive.EncodeOptions{}, archive.DictionaryRef{}, fmt.Errorf("reading dictionary: %w", err)
	}

	if kind == archive.DictionaryInline {
		return options, archive.InlineDictionary(dictionary), nil
	}

	st, err := session.Store(ctx)
	if err != nil {
		return archive.EncodeOptions{}, archive.DictionaryRef{}, err
	}
	digest, err := st.PutDictionary(ctx, dictionary)
	if err != nil {
		return archive.EncodeOptions{}, archive.DictionaryRef{}, err
	}
	resolver := archive.Dictionaries{}
	resolver.Add(dictionary)
	options.Resolver = resolver
	return options, archive.ExternalDictionary(digest), nil
}

// writeArchive encodes operations to the output named by f.Output. A
// partially written output file is removed on failure.
func (f *EncodeFlags) writeArchive(ctx context.Context, streams cli.Streams, session *cli.Session, operations []archive.Operation, options archive.EncodeOptions) (*archive.Archive, error) {
	output, err := cli.CreateOutput(streams, f.Output)
	if err != nil {
		return nil, err
	}
	encoded, err := archive.Encode(ctx, output, operations, options)
	if closeErr := output.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if f.Output != "" && f.Output != "-" {
			os.Remove(f.Output)
		}
		return nil, err
	}

	session.Logger.Info("wrote archive",
		"ref", archive.FormatRef(encoded.Aggregate()),
		"operations", encoded.Len(),
		"signers", len(options.Signers),
		"output", describePath(f.Output),
	)
	if f.Output != "" && f.Output != "-" {
		fmt.Fprintln(streams.Out, encoded.Aggregate())
	}
	return encoded, nil
}

// DecodeFlags are the flags shared by commands that read archives.
type DecodeFlags struct {
	Input string `flag:"input,i" desc:"archive file (default stdin)"`
	Base  string `flag:"base" desc:"directory the archive edits, for archives that delete entries"`
}

// decode reads and verifies the archive named by f.Input, resolving
// external dictionaries through the store.
func (f *DecodeFlags) decode(ctx context.Context, streams cli.Streams, session *cli.Session) (*archive.Archive, error) {
	options := archive.DecodeOptions{Resolver: session}
	if f.Base != "" {
		base, err := pack.ScanTree(ctx, f.Base)
		if err != nil {
			return nil, fmt.Errorf("scanning base: %w", err)
		}
		options.Base = base
	}
	return decodeInput(ctx, streams, f.Input, options)
}

func decodeInput(ctx context.Context, streams cli.Streams, path string, options archive.DecodeOptions) (*archive.Archive, error) {
	input, err := cli.OpenInput(streams, path)
	if err != nil {
		return nil, err
	}
	defer input.Close()
	return archive.Decode(ctx, input, options)
}

func describePath(path string) string {
	if path == "" || path == "-" {
		return "stdout"
	}
	return path
}
