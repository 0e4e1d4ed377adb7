// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/xuehua-build/xuehua/cmd/xuehua/cli"
	"github.com/xuehua-build/xuehua/lib/archive"
	"github.com/xuehua-build/xuehua/lib/keys"
)

// operationEntry is the structured form of one operation for --json
// and --cbor output.
type operationEntry struct {
	Index       int            `json:"index" cbor:"index"`
	Kind        string         `json:"kind" cbor:"kind"`
	Location    string         `json:"location" cbor:"location"`
	Type        string         `json:"type,omitempty" cbor:"type,omitempty"`
	Permissions string         `json:"permissions,omitempty" cbor:"permissions,omitempty"`
	Size        int            `json:"size,omitempty" cbor:"size,omitempty"`
	Target      string         `json:"target,omitempty" cbor:"target,omitempty"`
	Dictionary  string         `json:"dictionary,omitempty" cbor:"dictionary,omitempty"`
	Digest      archive.Digest `json:"digest" cbor:"digest"`
}

type decodeResult struct {
	Aggregate   archive.Digest   `json:"aggregate" cbor:"aggregate"`
	IndexDigest archive.Digest   `json:"index_digest" cbor:"index_digest"`
	Signers     []string         `json:"signers" cbor:"signers"`
	Operations  []operationEntry `json:"operations" cbor:"operations"`
}

func describeOperations(decoded *archive.Archive) decodeResult {
	digests := decoded.Digests()
	result := decodeResult{
		Aggregate:   decoded.Aggregate(),
		IndexDigest: decoded.IndexDigest(),
		Signers:     []string{},
		Operations:  make([]operationEntry, 0, decoded.Len()),
	}
	for _, signer := range decoded.Signers() {
		result.Signers = append(result.Signers, keys.Fingerprint(signer))
	}
	for index, op := range decoded.Operations() {
		entry := operationEntry{
			Index:    index,
			Kind:     op.Kind.String(),
			Location: string(op.Location),
			Digest:   digests[index],
		}
		if op.Kind == archive.KindCreate {
			entry.Type = op.Body.Type().String()
			entry.Permissions = op.Permissions.String()
			switch body := op.Body.(type) {
			case archive.File:
				entry.Size = len(body.Contents)
				if body.Dictionary.Kind != archive.DictionaryNone {
					entry.Dictionary = body.Dictionary.Kind.String()
				}
			case archive.Symlink:
				entry.Target = body.Target
			}
		}
		result.Operations = append(result.Operations, entry)
	}
	return result
}

type decodeParams struct {
	cli.Environment
	cli.Output
	DecodeFlags
}

func decodeCommand(streams cli.Streams) *cli.Command {
	var params decodeParams

	return &cli.Command{
		Name:    "decode",
		Summary: "List the operations in an archive",
		Description: `Decode and verify an archive and list its operations in stream
order. The listing is printed only after the footer has verified.`,
		Usage: "xuehua archive decode [flags]",
		Examples: []cli.Example{
			{
				Description: "List an archive's contents",
				Command:     "xuehua archive decode -i result.xha",
			},
			{
				Description: "Select created files with jq",
				Command:     `xuehua archive decode -i result.xha --json | jq '.operations[] | select(.type == "file")'`,
			},
		},
		Flags: func() *pflag.FlagSet {
			params = decodeParams{}
			return cli.FlagsFromParams("decode", &params)
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

			decoded, err := params.decode(ctx, streams, session)
			if err != nil {
				return err
			}
			result := describeOperations(decoded)
			if done, err := params.Emit(streams.Out, result); done {
				return err
			}

			writer := tabwriter.NewWriter(streams.Out, 2, 0, 2, ' ', 0)
			for _, entry := range result.Operations {
				detail := ""
				switch {
				case entry.Type == "file":
					detail = fmt.Sprintf("%d bytes", entry.Size)
					if entry.Dictionary != "" {
						detail += ", " + entry.Dictionary + " dictionary"
					}
				case entry.Type == "symlink":
					detail = "-> " + entry.Target
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", entry.Kind, entry.Type, entry.Permissions, entry.Location, detail)
			}
			if err := writer.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(streams.Out, "\n%d operations, aggregate %s\n", len(result.Operations), archive.FormatRef(result.Aggregate))
			return nil
		},
	}
}

type hashParams struct {
	cli.Environment
	DecodeFlags
	Each bool `flag:"each" desc:"print one digest per operation instead of the aggregate"`
}

func hashCommand(streams cli.Streams) *cli.Command {
	var params hashParams

	return &cli.Command{
		Name:    "hash",
		Summary: "Print an archive's digests",
		Description: `Decode and verify an archive and print its aggregate digest, the
value its signatures cover. With --each, print the digest, index and
location of every operation instead.`,
		Usage: "xuehua archive hash [flags]",
		Flags: func() *pflag.FlagSet {
			params = hashParams{}
			return cli.FlagsFromParams("hash", &params)
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

			decoded, err := params.decode(ctx, streams, session)
			if err != nil {
				return err
			}
			if !params.Each {
				_, err := fmt.Fprintln(streams.Out, decoded.Aggregate())
				return err
			}
			digests := decoded.Digests()
			for index, op := range decoded.Operations() {
				if _, err := fmt.Fprintf(streams.Out, "%s  %d  %s\n", digests[index], index, op.Location); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
