// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Package key implements the "xuehua key" CLI subcommands for creating
// and inspecting Ed25519 signing keys.
package key

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/xuehua-build/xuehua/cmd/xuehua/cli"
	"github.com/xuehua-build/xuehua/lib/keys"
)

// Command returns the "key" command with all subcommands.
func Command(streams cli.Streams) *cli.Command {
	return &cli.Command{
		Name:    "key",
		Summary: "Generate and inspect signing keys",
		Description: `Manage the Ed25519 keys that sign archives.

Keys are stored raw: 64 bytes for a private key and 32 for a public
key. OpenSSH ed25519 private keys and authorized_keys lines are also
accepted wherever a key file is read.`,
		Subcommands: []*cli.Command{
			generateCommand(streams),
			showCommand(streams),
		},
	}
}

type keyInfo struct {
	Fingerprint   string `json:"fingerprint" cbor:"fingerprint"`
	AuthorizedKey string `json:"authorized_key" cbor:"authorized_key"`
	Private       string `json:"private,omitempty" cbor:"private,omitempty"`
	Public        string `json:"public,omitempty" cbor:"public,omitempty"`
}

func describe(public ed25519.PublicKey) (keyInfo, error) {
	authorized, err := keys.AuthorizedKey(public)
	if err != nil {
		return keyInfo{}, err
	}
	return keyInfo{Fingerprint: keys.Fingerprint(public), AuthorizedKey: authorized}, nil
}

type generateParams struct {
	cli.Output
	Name string `flag:"name" desc:"key file name" default:"xuehua"`
}

func generateCommand(streams cli.Streams) *cli.Command {
	var params generateParams

	return &cli.Command{
		Name:    "generate",
		Summary: "Create a new key pair",
		Description: `Generate an Ed25519 key pair and write it to DIR as NAME (private,
mode 0600) and NAME.pub (public, mode 0644). Existing files are never
overwritten.`,
		Usage: "xuehua key generate DIR [flags]",
		Examples: []cli.Example{
			{
				Description: "Create the CI signing key",
				Command:     "xuehua key generate ~/.config/xuehua --name ci",
			},
		},
		Flags: func() *pflag.FlagSet {
			params = generateParams{}
			return cli.FlagsFromParams("generate", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one directory, got %d arguments", len(args))
			}
			public, private, err := keys.Generate()
			if err != nil {
				return err
			}
			path, err := keys.Save(args[0], params.Name, public, private)
			if err != nil {
				return err
			}
			info, err := describe(public)
			if err != nil {
				return err
			}
			info.Private = path
			info.Public = path + keys.PublicSuffix

			if done, err := params.Emit(streams.Out, info); done {
				return err
			}
			fmt.Fprintf(streams.Out, "private key: %s\npublic key:  %s\nfingerprint: %s\n", info.Private, info.Public, info.Fingerprint)
			return nil
		},
	}
}

type showParams struct {
	cli.Output
}

func showCommand(streams cli.Streams) *cli.Command {
	var params showParams

	return &cli.Command{
		Name:    "show",
		Summary: "Print a key's fingerprint and public half",
		Description: `Read a public or private key file and print the fingerprint and the
authorized_keys form of its public key. Give the public half to
anyone who verifies your archives.`,
		Usage: "xuehua key show FILE [flags]",
		Flags: func() *pflag.FlagSet {
			params = showParams{}
			return cli.FlagsFromParams("show", &params)
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one key file, got %d arguments", len(args))
			}
			public, err := loadAny(args[0])
			if err != nil {
				return err
			}
			info, err := describe(public)
			if err != nil {
				return err
			}
			if done, err := params.Emit(streams.Out, info); done {
				return err
			}
			fmt.Fprintf(streams.Out, "%s\n%s\n", info.Fingerprint, info.AuthorizedKey)
			return nil
		},
	}
}

// loadAny reads path as a public key, falling back to a private key.
func loadAny(path string) (ed25519.PublicKey, error) {
	public, publicErr := keys.LoadPublic(path)
	if publicErr == nil {
		return public, nil
	}
	private, privateErr := keys.LoadPrivate(path)
	if privateErr == nil {
		return private.Public().(ed25519.PublicKey), nil
	}
	if errors.Is(privateErr, keys.ErrEncryptedKey) {
		return nil, privateErr
	}
	return nil, fmt.Errorf("%s is neither a public nor a private key: %w", path, errors.Join(publicErr, privateErr))
}
