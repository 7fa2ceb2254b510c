package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/nanoframework/nf-debugger-sub001/internal/cli"
)

func main() {
	var c cli.CLI
	kctx := kong.Parse(&c,
		kong.Name("nfdbg"),
		kong.Description("Debug and deploy to nanoFramework devices over serial, TCP or BLE."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		cli.Vars(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	kctx.BindTo(ctx, (*context.Context)(nil))

	err := kctx.Run(&c)
	stop()
	kctx.FatalIfErrorf(err)
}
