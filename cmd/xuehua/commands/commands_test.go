// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package commands_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xuehua-build/xuehua/cmd/xuehua/cli"
	"github.com/xuehua-build/xuehua/cmd/xuehua/commands"
	"github.com/xuehua-build/xuehua/lib/archive"
	"github.com/xuehua-build/xuehua/lib/config"
	"github.com/xuehua-build/xuehua/lib/store"
	"github.com/xuehua-build/xuehua/lib/testutil"
	"github.com/xuehua-build/xuehua/lib/version"
)

// harness runs the command tree against a private configuration and
// store under a temporary directory.
type harness struct {
	t   *testing.T
	dir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "xuehua.yaml")
	writeConfig(t, configPath, filepath.Join(dir, "store"))
	t.Setenv(config.EnvVar, configPath)
	return &harness{t: t, dir: dir}
}

func writeConfig(t *testing.T, path, storeRoot string) {
	t.Helper()
	contents := fmt.Sprintf("root: %s\nstore:\n  root: %s\ncompression:\n  concurrency: 2\n", filepath.Dir(path), storeRoot)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

// run executes args with stdin as standard input and returns standard
// output.
func (h *harness) run(stdin []byte, args ...string) ([]byte, error) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	streams := cli.Streams{In: bytes.NewReader(stdin), Out: &stdout, Err: &stderr}
	err := commands.Root(streams).Execute(context.Background(), args, &stderr)
	return stdout.Bytes(), err
}

// mustRun is run for invocations that must succeed.
func (h *harness) mustRun(stdin []byte, args ...string) []byte {
	h.t.Helper()
	stdout, err := h.run(stdin, args...)
	if err != nil {
		h.t.Fatalf("xuehua %s: %v", strings.Join(args, " "), err)
	}
	return stdout
}

// in returns h bound to the subtest t.
func (h *harness) in(t *testing.T) *harness {
	return &harness{t: t, dir: h.dir}
}

func (h *harness) path(name string) string {
	return filepath.Join(h.dir, name)
}

var sampleTree = []testutil.Entry{
	{Path: "bin", Dir: true},
	{Path: "bin/hello", Contents: "#!/bin/sh\necho hello\n", Mode: 0o755},
	{Path: "lib", Dir: true, Mode: 0o750},
	{Path: "lib/libhello.so", Contents: strings.Repeat("\x7fELF shared object ", 64)},
	{Path: "lib/libhello.so.1", Target: "libhello.so"},
	{Path: "share", Dir: true},
	{Path: "share/doc", Dir: true},
	{Path: "share/doc/README", Contents: "hello world\n", Mode: 0o600},
}

func TestPackUnpackRoundTrip(t *testing.T) {
	h := newHarness(t)
	source := h.path("source")
	testutil.WriteTree(t, source, sampleTree)

	encoded := h.mustRun(nil, "archive", "pack", source)
	destination := h.path("destination")
	h.mustRun(encoded, "archive", "unpack", destination)

	if diff := cmp.Diff(testutil.ReadTree(t, source), testutil.ReadTree(t, destination)); diff != "" {
		t.Errorf("unpacked tree mismatch (-want +got):\n%s", diff)
	}

	// The destination now holds every entry, so applying the same
	// archive again is rejected before anything is written.
	_, err := h.run(encoded, "archive", "unpack", destination)
	if !errors.Is(err, archive.ErrDuplicateLocation) {
		t.Errorf("second unpack error = %v, want ErrDuplicateLocation", err)
	}
}

func TestPackToFilePrintsAggregate(t *testing.T) {
	h := newHarness(t)
	source := h.path("source")
	testutil.WriteTree(t, source, sampleTree)
	output := h.path("out.xha")

	printed := strings.TrimSpace(string(h.mustRun(nil, "archive", "pack", source, "-o", output, "--level", "19")))
	hashed := strings.TrimSpace(string(h.mustRun(nil, "archive", "hash", "-i", output)))
	if printed != hashed {
		t.Errorf("pack printed %q, hash printed %q", printed, hashed)
	}
	if _, err := archive.ParseDigest(printed); err != nil {
		t.Errorf("pack output %q is not a digest: %v", printed, err)
	}
}

func TestPackRejectsBadArguments(t *testing.T) {
	h := newHarness(t)
	source := h.path("source")
	testutil.WriteTree(t, source, sampleTree)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no directory", []string{"archive", "pack"}, "exactly one directory"},
		{"bad level", []string{"archive", "pack", source, "--level", "30"}, "--level"},
		{"bad dictionary mode", []string{"archive", "pack", source, "--dictionary", "shared"}, "unknown dictionary kind"},
		{"dictionary without file", []string{"archive", "pack", source, "--dictionary", "inline"}, "requires --dictionary-file"},
		{"misspelled flag", []string{"archive", "pack", source, "--levl", "3"}, "did you mean --level"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := h.in(t)
			_, err := h.run(nil, test.args...)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %v, want it to contain %q", err, test.want)
			}
		})
	}
}

func TestDecodeAndHash(t *testing.T) {
	h := newHarness(t)
	source := h.path("source")
	testutil.WriteTree(t, source, sampleTree)
	encoded := h.mustRun(nil, "archive", "pack", source)

	var listing struct {
		Aggregate  archive.Digest `json:"aggregate"`
		Operations []struct {
			Kind     string         `json:"kind"`
			Location string         `json:"location"`
			Type     string         `json:"type"`
			Target   string         `json:"target"`
			Size     int            `json:"size"`
			Digest   archive.Digest `json:"digest"`
		} `json:"operations"`
	}
	if err := json.Unmarshal(h.mustRun(encoded, "archive", "decode", "--json"), &listing); err != nil {
		t.Fatal(err)
	}

	var locations []string
	for _, op := range listing.Operations {
		if op.Kind != "create" {
			t.Errorf("%s: kind = %q, want create", op.Location, op.Kind)
		}
		locations = append(locations, op.Location)
	}
	want := []string{"bin", "bin/hello", "lib", "lib/libhello.so", "lib/libhello.so.1", "share", "share/doc", "share/doc/README"}
	if diff := cmp.Diff(want, locations); diff != "" {
		t.Errorf("decoded locations mismatch (-want +got):\n%s", diff)
	}
	if got := listing.Operations[4]; got.Type != "symlink" || got.Target != "libhello.so" {
		t.Errorf("symlink entry = %+v", got)
	}
	if got := listing.Operations[1]; got.Type != "file" || got.Size != len("#!/bin/sh\necho hello\n") {
		t.Errorf("file entry = %+v", got)
	}

	aggregate := strings.TrimSpace(string(h.mustRun(encoded, "archive", "hash")))
	if aggregate != listing.Aggregate.String() {
		t.Errorf("hash = %s, decode aggregate = %s", aggregate, listing.Aggregate)
	}

	lines := strings.Split(strings.TrimSpace(string(h.mustRun(encoded, "archive", "hash", "--each"))), "\n")
	if len(lines) != len(want) {
		t.Fatalf("hash --each printed %d lines, want %d", len(lines), len(want))
	}
	for i, line := range lines {
		wantLine := fmt.Sprintf("%s  %d  %s", listing.Operations[i].Digest, i, want[i])
		if line != wantLine {
			t.Errorf("line %d = %q, want %q", i, line, wantLine)
		}
	}

	text := string(h.mustRun(encoded, "archive", "decode"))
	if !strings.Contains(text, "8 operations, aggregate "+archive.FormatRef(listing.Aggregate)) {
		t.Errorf("text listing missing summary:\n%s", text)
	}
}

func TestDecodeRejectsTamperedArchive(t *testing.T) {
	h := newHarness(t)
	source := h.path("source")
	testutil.WriteTree(t, source, sampleTree)
	encoded := h.mustRun(nil, "archive", "pack", source)

	tampered := bytes.Clone(encoded)
	tampered[len(tampered)/2] ^= 0xff
	stdout, err := h.run(tampered, "archive", "decode")
	if err == nil {
		t.Fatal("decode accepted a tampered archive")
	}
	if len(stdout) != 0 {
		t.Errorf("decode printed output for a rejected archive:\n%s", stdout)
	}
	var archiveErr *archive.Error
	if !errors.As(err, &archiveErr) {
		t.Errorf("error %v is not an *archive.Error", err)
	}
}

func TestVerify(t *testing.T) {
	h := newHarness(t)
	source := h.path("source")
	testutil.WriteTree(t, source, sampleTree)
	keys := h.path("keys")
	if err := os.Mkdir(keys, 0o700); err != nil {
		t.Fatal(err)
	}
	h.mustRun(nil, "key", "generate", keys, "--name", "release")
	h.mustRun(nil, "key", "generate", keys, "--name", "other")

	signed := h.mustRun(nil, "archive", "pack", source, "--key", filepath.Join(keys, "release"))
	unsigned := h.mustRun(nil, "archive", "pack", source)

	t.Run("trusted signer", func(t *testing.T) {
		h := h.in(t)
		stdout := h.mustRun(signed, "archive", "verify", "--trusted", filepath.Join(keys, "release.pub"))
		if !strings.Contains(string(stdout), "(trusted)") {
			t.Errorf("verify output does not mark the trusted signer:\n%s", stdout)
		}
	})

	t.Run("untrusted signer", func(t *testing.T) {
		h := h.in(t)
		stdout, err := h.run(signed, "archive", "verify", "--trusted", filepath.Join(keys, "other.pub"))
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) || exitErr.Code != 1 {
			t.Fatalf("verify error = %v, want exit code 1", err)
		}
		if !strings.Contains(string(stdout), "no trusted signer") {
			t.Errorf("verify output missing verdict:\n%s", stdout)
		}
	})

	t.Run("either of several trusted keys", func(t *testing.T) {
		h := h.in(t)
		h.mustRun(signed, "archive", "verify",
			"--trusted", filepath.Join(keys, "other.pub"),
			"--trusted", filepath.Join(keys, "release.pub"))
	})

	t.Run("unsigned with trusted keys", func(t *testing.T) {
		h := h.in(t)
		_, err := h.run(unsigned, "archive", "verify", "--trusted", filepath.Join(keys, "release.pub"))
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("verify error = %v, want an ExitError", err)
		}
	})

	t.Run("integrity only", func(t *testing.T) {
		h := h.in(t)
		stdout := h.mustRun(unsigned, "archive", "verify")
		if !strings.Contains(string(stdout), "unsigned") {
			t.Errorf("verify output = %q, want it to report unsigned", stdout)
		}
	})

	t.Run("json", func(t *testing.T) {
		h := h.in(t)
		var result struct {
			Trusted bool `json:"trusted"`
			Signers []struct {
				Fingerprint string `json:"fingerprint"`
				Trusted     bool   `json:"trusted"`
			} `json:"signers"`
		}
		stdout := h.mustRun(signed, "archive", "verify", "--json", "--trusted", filepath.Join(keys, "release.pub"))
		if err := json.Unmarshal(stdout, &result); err != nil {
			t.Fatal(err)
		}
		if !result.Trusted || len(result.Signers) != 1 || !result.Signers[0].Trusted {
			t.Errorf("verify --json = %+v, want one trusted signer", result)
		}
		shown := strings.Split(string(h.mustRun(nil, "key", "show", filepath.Join(keys, "release.pub"))), "\n")[0]
		if result.Signers[0].Fingerprint != shown {
			t.Errorf("signer fingerprint = %q, key show = %q", result.Signers[0].Fingerprint, shown)
		}
	})
}

func TestDiffAppliesToBase(t *testing.T) {
	h := newHarness(t)
	base := []testutil.Entry{
		{Path: "bin", Dir: true},
		{Path: "bin/tool", Contents: "v1\n", Mode: 0o755},
		{Path: "old", Dir: true},
		{Path: "old/data", Contents: "stale\n"},
		{Path: "README", Contents: "unchanged\n"},
	}
	target := []testutil.Entry{
		{Path: "bin", Dir: true},
		{Path: "bin/tool", Contents: "v2\n", Mode: 0o755},
		{Path: "new", Dir: true},
		{Path: "new/data", Contents: "fresh\n"},
		{Path: "README", Contents: "unchanged\n"},
	}
	v1, v2 := h.path("v1"), h.path("v2")
	testutil.WriteTree(t, v1, base)
	testutil.WriteTree(t, v2, target)

	encoded := h.mustRun(nil, "archive", "diff", v1, v2)

	if _, err := h.run(encoded, "archive", "decode"); !errors.Is(err, archive.ErrUnknownLocation) {
		t.Errorf("decode without --base: error = %v, want ErrUnknownLocation", err)
	}
	var listing struct {
		Operations []struct {
			Kind     string `json:"kind"`
			Location string `json:"location"`
		} `json:"operations"`
	}
	if err := json.Unmarshal(h.mustRun(encoded, "archive", "decode", "--json", "--base", v1), &listing); err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, op := range listing.Operations {
		got = append(got, op.Kind+" "+op.Location)
	}
	want := []string{"delete bin/tool", "delete old", "create bin/tool", "create new", "create new/data"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("diff operations mismatch (-want +got):\n%s", diff)
	}

	installed := h.path("installed")
	testutil.WriteTree(t, installed, base)
	h.mustRun(encoded, "archive", "unpack", installed)
	if diff := cmp.Diff(testutil.ReadTree(t, v2), testutil.ReadTree(t, installed)); diff != "" {
		t.Errorf("patched tree mismatch (-want +got):\n%s", diff)
	}
}

func TestExternalDictionary(t *testing.T) {
	h := newHarness(t)
	source := h.path("source")
	testutil.WriteTree(t, source, sampleTree)
	dictionary := h.path("raw.dict")
	if err := os.WriteFile(dictionary, []byte(strings.Repeat("\x7fELF shared object ", 16)), 0o644); err != nil {
		t.Fatal(err)
	}
	output := h.path("out.xha")

	h.mustRun(nil, "archive", "pack", source, "-o", output, "--dictionary", "external", "--dictionary-file", dictionary)

	destination := h.path("destination")
	h.mustRun(nil, "archive", "unpack", destination, "-i", output)
	if diff := cmp.Diff(testutil.ReadTree(t, source), testutil.ReadTree(t, destination)); diff != "" {
		t.Errorf("unpacked tree mismatch (-want +got):\n%s", diff)
	}

	// A configuration pointing at an empty store cannot resolve the
	// dictionary, and does not create a store by trying.
	otherConfig := h.path("other.yaml")
	otherStore := h.path("other-store")
	writeConfig(t, otherConfig, otherStore)
	_, err := h.run(nil, "archive", "decode", "-i", output, "--config", otherConfig)
	if !errors.Is(err, archive.ErrUnresolvedDictionary) {
		t.Errorf("decode against an empty store: error = %v, want ErrUnresolvedDictionary", err)
	}
	if _, statErr := os.Stat(otherStore); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("decode created the store at %s", otherStore)
	}
}

func TestInlineDictionary(t *testing.T) {
	h := newHarness(t)
	source := h.path("source")
	testutil.WriteTree(t, source, sampleTree)
	dictionary := h.path("raw.dict")
	if err := os.WriteFile(dictionary, []byte("echo hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	encoded := h.mustRun(nil, "archive", "pack", source, "--dictionary", "inline", "--dictionary-file", dictionary)

	otherConfig := h.path("other.yaml")
	writeConfig(t, otherConfig, h.path("other-store"))
	stdout := h.mustRun(encoded, "archive", "decode", "--config", otherConfig)
	if !strings.Contains(string(stdout), "inline dictionary") {
		t.Errorf("decode listing does not mention the inline dictionary:\n%s", stdout)
	}
}

func TestDictTrainAndAdd(t *testing.T) {
	h := newHarness(t)
	samples := h.path("samples")
	if err := os.MkdirAll(filepath.Join(samples, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	for i := range 400 {
		dir := samples
		if i%2 == 0 {
			dir = filepath.Join(samples, "nested")
		}
		contents := fmt.Sprintf(`{"name":"package-%d","version":"1.%d.0","license":"Apache-2.0","description":"a package in the sample set"}`, i, i%17)
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("package-%d.json", i)), []byte(contents), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	trained := h.path("packages.dict")
	h.mustRun(nil, "dict", "train", samples, "-o", trained, "--max-size", "4096")
	first, err := os.ReadFile(trained)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) == 0 || len(first) > 4096 {
		t.Errorf("trained dictionary is %d bytes, want 1 to 4096", len(first))
	}
	if printed := h.mustRun(nil, "dict", "train", samples, "--max-size", "4096"); len(printed) == 0 {
		t.Error("dict train without -o wrote nothing to stdout")
	}

	printed := strings.TrimSpace(string(h.mustRun(nil, "dict", "add", trained)))
	if want := archive.DictionaryDigest(first).String(); printed != want {
		t.Errorf("dict add printed %q, want %q", printed, want)
	}
	if again := strings.TrimSpace(string(h.mustRun(nil, "dict", "add", trained))); again != printed {
		t.Errorf("second dict add printed %q, want %q", again, printed)
	}
}

func TestDictTrainSmallSample(t *testing.T) {
	h := newHarness(t)
	sample := h.path("notes.txt")
	if err := os.WriteFile(sample, []byte("hello, dictionary\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	dictionary := h.path("notes.dict")
	h.mustRun(nil, "dict", "train", sample, "-o", dictionary)

	data, err := os.ReadFile(dictionary)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello, dictionary\n" {
		t.Errorf("dictionary = %q, want the sample as raw content", data)
	}
}

func TestStoreCommands(t *testing.T) {
	h := newHarness(t)
	source := h.path("source")
	testutil.WriteTree(t, source, sampleTree)
	keys := h.path("keys")
	if err := os.Mkdir(keys, 0o700); err != nil {
		t.Fatal(err)
	}
	h.mustRun(nil, "key", "generate", keys)
	output := h.path("out.xha")
	h.mustRun(nil, "archive", "pack", source, "-o", output, "--key", filepath.Join(keys, "xuehua"))

	ref := strings.TrimSpace(string(h.mustRun(nil, "store", "register", output, "--package", "hello")))
	if !strings.HasPrefix(ref, "xha-") {
		t.Fatalf("store register printed %q, want a short ref", ref)
	}
	original, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if again := strings.TrimSpace(string(h.mustRun(original, "store", "register"))); again != ref {
		t.Errorf("registering from stdin printed %q, want %q", again, ref)
	}

	var artifacts []store.Artifact
	if err := json.Unmarshal(h.mustRun(nil, "store", "list", "--json"), &artifacts); err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("store list returned %d artifacts, want 1", len(artifacts))
	}
	if got := archive.FormatRef(artifacts[0].Digest); got != ref {
		t.Errorf("listed artifact %s, want %s", got, ref)
	}
	if len(artifacts[0].Summary.Signers) != 1 || artifacts[0].Operations != len(sampleTree) {
		t.Errorf("artifact summary = %+v", artifacts[0])
	}

	var packages []store.PackageEntry
	if err := json.Unmarshal(h.mustRun(nil, "store", "list", "--packages", "--json"), &packages); err != nil {
		t.Fatal(err)
	}
	if len(packages) != 1 || packages[0].Name != "hello" || packages[0].Artifact.Digest != artifacts[0].Digest {
		t.Errorf("store list --packages = %+v", packages)
	}

	for _, id := range []string{"hello", ref, artifacts[0].Digest.String()} {
		fetched := h.mustRun(nil, "store", "get", id)
		if !bytes.Equal(fetched, original) {
			t.Errorf("store get %s returned different bytes", id)
		}
	}

	var shown store.Artifact
	if err := json.Unmarshal(h.mustRun(nil, "store", "show", "hello", "--json"), &shown); err != nil {
		t.Fatal(err)
	}
	if shown.Digest != artifacts[0].Digest {
		t.Errorf("store show hello = %s, want %s", shown.Digest, artifacts[0].Digest)
	}

	copied := h.path("copy.xha")
	h.mustRun(nil, "store", "get", "hello", "-o", copied)
	destination := h.path("destination")
	h.mustRun(nil, "archive", "unpack", destination, "-i", copied)
	if diff := cmp.Diff(testutil.ReadTree(t, source), testutil.ReadTree(t, destination)); diff != "" {
		t.Errorf("unpacked tree mismatch (-want +got):\n%s", diff)
	}

	if _, err := h.run(nil, "store", "get", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("store get missing: error = %v, want ErrNotFound", err)
	}
}

func TestKeyCommands(t *testing.T) {
	h := newHarness(t)
	keys := h.path("keys")
	if err := os.Mkdir(keys, 0o700); err != nil {
		t.Fatal(err)
	}

	var generated struct {
		Fingerprint   string `json:"fingerprint"`
		AuthorizedKey string `json:"authorized_key"`
		Private       string `json:"private"`
		Public        string `json:"public"`
	}
	if err := json.Unmarshal(h.mustRun(nil, "key", "generate", keys, "--name", "ci", "--json"), &generated); err != nil {
		t.Fatal(err)
	}
	if generated.Private != filepath.Join(keys, "ci") || generated.Public != filepath.Join(keys, "ci.pub") {
		t.Errorf("generated paths = %q, %q", generated.Private, generated.Public)
	}
	if !strings.HasPrefix(generated.AuthorizedKey, "ssh-ed25519 ") {
		t.Errorf("authorized key = %q", generated.AuthorizedKey)
	}

	want := generated.Fingerprint + "\n" + generated.AuthorizedKey + "\n"
	for _, path := range []string{generated.Private, generated.Public} {
		if got := string(h.mustRun(nil, "key", "show", path)); got != want {
			t.Errorf("key show %s = %q, want %q", path, got, want)
		}
	}

	if _, err := h.run(nil, "key", "generate", keys, "--name", "ci"); err == nil {
		t.Error("key generate overwrote an existing key")
	}
	garbage := h.path("garbage")
	if err := os.WriteFile(garbage, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := h.run(nil, "key", "show", garbage); err == nil {
		t.Error("key show accepted garbage")
	}
}

func TestVersion(t *testing.T) {
	h := newHarness(t)

	text := string(h.mustRun(nil, "version"))
	if !strings.HasPrefix(text, "xuehua "+version.Version) {
		t.Errorf("version output = %q", text)
	}

	var build version.Build
	if err := json.Unmarshal(h.mustRun(nil, "version", "--json"), &build); err != nil {
		t.Fatal(err)
	}
	if build.Version != version.Version || build.Go == "" {
		t.Errorf("version --json = %+v", build)
	}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(nil, "archive", "unpak")
	if err == nil || !strings.Contains(err.Error(), `did you mean "unpack"`) {
		t.Errorf("error = %v, want a suggestion for unpack", err)
	}
}
