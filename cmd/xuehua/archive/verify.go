// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/xuehua-build/xuehua/cmd/xuehua/cli"
	"github.com/xuehua-build/xuehua/lib/archive"
	"github.com/xuehua-build/xuehua/lib/keys"
)

type verifyParams struct {
	cli.Environment
	cli.Output
	DecodeFlags
	Trusted []string `flag:"trusted" desc:"trusted public key file (repeatable; default signing.trusted)"`
}

type signerEntry struct {
	Fingerprint   string `json:"fingerprint" cbor:"fingerprint"`
	AuthorizedKey string `json:"authorized_key" cbor:"authorized_key"`
	Trusted       bool   `json:"trusted" cbor:"trusted"`
}

type verifyResult struct {
	Ref        string        `json:"ref" cbor:"ref"`
	Operations int           `json:"operations" cbor:"operations"`
	Signers    []signerEntry `json:"signers" cbor:"signers"`
	Trusted    bool          `json:"trusted" cbor:"trusted"`
}

func verifyCommand(streams cli.Streams) *cli.Command {
	var params verifyParams

	return &cli.Command{
		Name:    "verify",
		Summary: "Verify an archive and check its signers",
		Description: `Decode an archive, checking every operation digest, the tree rules
and every footer signature, and list the keys that signed it.

When trusted keys are given (by --trusted or signing.trusted), the
command exits with status 1 unless at least one of them signed the
archive. Without trusted keys only integrity is checked.`,
		Usage: "xuehua archive verify [flags]",
		Examples: []cli.Example{
			{
				Description: "Require the CI key",
				Command:     "xuehua archive verify -i result.xha --trusted ci.pub",
			},
		},
		Flags: func() *pflag.FlagSet {
			params = verifyParams{}
			return cli.FlagsFromParams("verify", &params)
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

			trusted, err := session.Trusted(params.Trusted)
			if err != nil {
				return err
			}
			decoded, err := params.decode(ctx, streams, session)
			if err != nil {
				return err
			}

			result := verifyResult{
				Ref:        archive.FormatRef(decoded.Aggregate()),
				Operations: decoded.Len(),
				Signers:    []signerEntry{},
				Trusted:    decoded.SignedBy(trusted...),
			}
			for _, signer := range decoded.Signers() {
				authorized, err := keys.AuthorizedKey(signer)
				if err != nil {
					return err
				}
				result.Signers = append(result.Signers, signerEntry{
					Fingerprint:   keys.Fingerprint(signer),
					AuthorizedKey: authorized,
					Trusted:       isTrusted(signer, trusted),
				})
			}

			if done, err := params.Emit(streams.Out, result); !done {
				printVerifyResult(streams, result, len(trusted))
			} else if err != nil {
				return err
			}

			if len(trusted) == 0 {
				session.Logger.Warn("no trusted keys configured; checked integrity only")
				return nil
			}
			if !result.Trusted {
				return &cli.ExitError{Code: 1, Reason: "no trusted signer"}
			}
			return nil
		},
	}
}

func printVerifyResult(streams cli.Streams, result verifyResult, trustedKeys int) {
	fmt.Fprintf(streams.Out, "%s: %d operations verified\n", result.Ref, result.Operations)
	if len(result.Signers) == 0 {
		fmt.Fprintln(streams.Out, "unsigned")
	}
	for _, signer := range result.Signers {
		marker := ""
		if signer.Trusted {
			marker = " (trusted)"
		}
		fmt.Fprintf(streams.Out, "signed by %s%s\n", signer.Fingerprint, marker)
	}
	if trustedKeys > 0 && !result.Trusted {
		fmt.Fprintf(streams.Out, "no trusted signer among %d trusted keys\n", trustedKeys)
	}
}

func isTrusted(signer ed25519.PublicKey, trusted []ed25519.PublicKey) bool {
	for _, key := range trusted {
		if signer.Equal(key) {
			return true
		}
	}
	return false
}
