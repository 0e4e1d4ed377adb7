// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xuehua-build/xuehua/cmd/xuehua/cli"
	"github.com/xuehua-build/xuehua/cmd/xuehua/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	streams := cli.StandardStreams()
	err := commands.Root(streams).Execute(ctx, os.Args[1:], streams.Err)
	stop()

	var exitErr *cli.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		os.Exit(exitErr.Code)
	default:
		fmt.Fprintf(streams.Err, "xuehua: %v\n", err)
		os.Exit(1)
	}
}
