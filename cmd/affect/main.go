package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	domainerr "github.com/vsinha/affect/pkg/domain/errors"
	"github.com/vsinha/affect/pkg/interfaces/cli/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := commands.NewRootCommand().ExecuteContext(ctx); err != nil {
		if code := domainerr.CodeOf(err); code != domainerr.CodeUnknown {
			fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", code, err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
