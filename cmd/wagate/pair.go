package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/mdp/qrterminal/v3"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/talkincode/wagate/internal/app"
	"github.com/talkincode/wagate/internal/whatsapp"
)

var pairCmd = &cobra.Command{
	Use:   "pair [slot]",
	Short: "Pair a qr-pairing slot from the terminal",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPair,
}

func runPair(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	id := cfg.WhatsApp.DefaultSlot
	if len(args) > 0 {
		id = args[0]
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.NewApplication(cfg)
	if err := application.Init(ctx); err != nil {
		return errors.Wrap(err, "init application")
	}
	defer application.Release()

	sub := application.Events().Subscribe(whatsapp.WithSlots(id))
	defer sub.Close()

	if err := application.Start(ctx); err != nil {
		return err
	}
	sup := application.Supervisor()
	st, err := sup.Status(id)
	if err != nil {
		return errors.Wrapf(err, "slot %q", id)
	}
	out := cmd.OutOrStdout()
	if st.Status == whatsapp.StatusConnected {
		fmt.Fprintf(out, "slot %s is already connected\n", id)
		return nil
	}
	if st.Status == whatsapp.StatusAwaitingScan {
		printQR(out, id, st.QRPayload)
	}
	if err := sup.RequestPairing(ctx, id); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-sub.C():
			if !ok {
				return errors.New("event stream closed")
			}
			ev, ok := d.Event.(whatsapp.StatusChanged)
			if !ok {
				continue
			}
			switch ev.Status {
			case whatsapp.StatusAwaitingScan:
				printQR(out, id, ev.QRPayload)
			case whatsapp.StatusConnected:
				fmt.Fprintf(out, "slot %s connected\n", id)
				return nil
			case whatsapp.StatusDisconnected:
				if ev.Reason != whatsapp.ReasonNone && whatsapp.Decide(ev.Reason) == whatsapp.GiveUp {
					return errors.Errorf("slot %s disconnected: %s", id, ev.Reason)
				}
			case whatsapp.StatusError:
				return errors.Errorf("slot %s failed: %s", id, ev.Reason)
			}
		}
	}
}

func printQR(w io.Writer, id, payload string) {
	if payload == "" {
		return
	}
	fmt.Fprintf(w, "scan with WhatsApp to pair slot %s:\n", id)
	qrterminal.GenerateHalfBlock(payload, qrterminal.L, w)
}
