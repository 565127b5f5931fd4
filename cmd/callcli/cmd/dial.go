package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/studypair/callkit/internal/domain"
)

var flagAudioOnly bool

var dialCmd = &cobra.Command{
	Use:   "dial <user>",
	Short: "Call another user and stay on the line until the call ends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dial(domain.UserID(args[0]))
	},
}

func init() {
	dialCmd.Flags().BoolVar(&flagAudioOnly, "audio", false, "audio-only call")
}

func dial(recipient domain.UserID) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sess, ch, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	callType := domain.CallTypeVideo
	if flagAudioOnly {
		callType = domain.CallTypeAudio
	}

	done := watchTerminal(sess)
	out, err := sess.Initiate(ctx, recipient, callType)
	if err != nil {
		return fmt.Errorf("dial %s: %w", recipient, err)
	}
	fmt.Printf("ringing %s (call %s), Ctrl-C to hang up\n", recipient, out.CallID)

	status := waitTerminal(ctx, sess, done)
	fmt.Println("final:", status)
	return nil
}
