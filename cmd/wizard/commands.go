package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/onlyusedtesla/checkout/internal/wizard"
)

func showCommand() *cli.Command {
	return &cli.Command{
		Name:   "show",
		Usage:  "Print the current step, quote and field errors",
		Action: withSession(func(context.Context, *session) error { return nil }),
	}
}

func setCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Set one field",
		ArgsUsage: "<field> <value>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("usage: wizard set <field> <value>", 2)
			}
			name := c.Args().First()
			raw := strings.Join(c.Args().Tail(), " ")
			return withSession(func(ctx context.Context, s *session) error {
				id, err := s.registry.Parse(name)
				if err != nil {
					return err
				}
				feedback, err := s.ctrl.SetField(ctx, id, raw)
				if err != nil {
					return err
				}
				printFeedback(c, s.out, feedback)
				return nil
			})(c)
		},
	}
}

func nextCommand() *cli.Command {
	return &cli.Command{
		Name:  "next",
		Usage: "Validate the current step and advance",
		Action: withSession(func(ctx context.Context, s *session) error {
			_, err := s.ctrl.Next(ctx)
			return err
		}),
	}
}

func backCommand() *cli.Command {
	return &cli.Command{
		Name:  "back",
		Usage: "Return to the previous step, keeping entered data",
		Action: withSession(func(ctx context.Context, s *session) error {
			s.ctrl.Back(ctx)
			return nil
		}),
	}
}

func editDetailsCommand() *cli.Command {
	return &cli.Command{
		Name:  "edit-details",
		Usage: "Jump back to the listing details step",
		Action: withSession(func(ctx context.Context, s *session) error {
			s.ctrl.EditDetails(ctx)
			return nil
		}),
	}
}

func quoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "quote",
		Usage: "Print the itemised quote only",
		Action: func(c *cli.Context) error {
			s, view, err := openSession(c, wizard.Resume{})
			if err != nil {
				return err
			}
			defer s.Close()
			return renderQuote(c, view.Quote)
		},
	}
}

func sendCodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "send-code",
		Usage: "Text a verification code to the contact phone (needs --api-url)",
		Action: withSession(func(ctx context.Context, s *session) error {
			pending, err := s.ctrl.SendCode(ctx)
			if err != nil {
				return err
			}
			s.logger.Info("verification code sent")
			fmt.Fprintf(s.out, "Code sent; it expires at %s.\n", pending.ExpiresAt.Local().Format("15:04"))
			return nil
		}),
	}
}

func verifyCodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify-code",
		Usage:     "Check the verification code",
		ArgsUsage: "<code>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: wizard verify-code <code>", 2)
			}
			code := c.Args().First()
			return withSession(func(ctx context.Context, s *session) error {
				ok, err := s.ctrl.VerifyCode(ctx, code)
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintln(s.out, "Phone verified.")
				} else {
					fmt.Fprintln(s.out, "That code did not match.")
				}
				return nil
			})(c)
		},
	}
}

func enterPaymentCommand() *cli.Command {
	return &cli.Command{
		Name:  "enter-payment",
		Usage: "Create the charge for the current total without paying",
		Action: withSession(func(ctx context.Context, s *session) error {
			return s.ctrl.EnterPayment(ctx)
		}),
	}
}

func payCommand() *cli.Command {
	return &cli.Command{
		Name:  "pay",
		Usage: "Pay the quoted total and submit the listing",
		Action: withSession(func(ctx context.Context, s *session) error {
			res, err := s.ctrl.Pay(ctx)
			if err != nil {
				return err
			}
			printResolution(s.out, res)
			return nil
		}),
	}
}

func resumeCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "Resume after a payment redirect",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "query",
				Usage:    "Query string the payment page redirected back with",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			s, view, err := openSession(c, wizard.ResumeFromQuery(c.String("query")))
			if err != nil {
				return err
			}
			defer s.Close()
			return render(c, view)
		},
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Discard the draft and start from step 1",
		Action: withSession(func(ctx context.Context, s *session) error {
			s.ctrl.Reset(ctx)
			return nil
		}),
	}
}

func startOverCommand() *cli.Command {
	return &cli.Command{
		Name:  "start-over",
		Usage: "Begin a new listing after a submitted one",
		Action: withSession(func(ctx context.Context, s *session) error {
			s.ctrl.StartOver(ctx)
			return nil
		}),
	}
}

func fieldsCommand() *cli.Command {
	return &cli.Command{
		Name:  "fields",
		Usage: "List the field names accepted by set",
		Action: func(c *cli.Context) error {
			s, _, err := openSession(c, wizard.Resume{})
			if err != nil {
				return err
			}
			defer s.Close()
			for _, id := range s.registry.IDs() {
				d, _ := s.registry.Lookup(id)
				fmt.Fprintf(s.out, "%-22s %s\n", strings.ReplaceAll(string(id), "_", "-"), d.Label)
			}
			return nil
		},
	}
}
