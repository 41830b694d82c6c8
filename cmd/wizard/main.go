// Package main provides the checkout wizard CLI.
//
// Every invocation restores the saved draft, applies one action and saves again, so a
// listing can be built up across several commands:
//
//	wizard next
//	wizard set vin 5YJ3E1EB4KF123456
//	wizard pay --api-url http://localhost:8080
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var commit = "unknown"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "wizard: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "wizard",
		Usage:   "Create a used Tesla listing step by step",
		Version: fmt.Sprintf("dev (commit: %s)", commit),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			showCommand(),
			setCommand(),
			nextCommand(),
			backCommand(),
			editDetailsCommand(),
			quoteCommand(),
			sendCodeCommand(),
			verifyCodeCommand(),
			enterPaymentCommand(),
			payCommand(),
			resumeCommand(),
			resetCommand(),
			startOverCommand(),
			fieldsCommand(),
		},
	}
}
