package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/studypair/callkit/internal/domain"
)

var flagAutoReject bool

var answerCmd = &cobra.Command{
	Use:   "answer",
	Short: "Wait for an incoming call and pick it up",
	RunE: func(cmd *cobra.Command, args []string) error {
		return answer()
	},
}

func init() {
	answerCmd.Flags().BoolVar(&flagAutoReject, "reject", false, "reject instead of accepting")
}

func answer() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sess, ch, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	done := watchTerminal(sess)
	incoming := make(chan domain.CallSession, 1)
	sess.OnIncoming(func(c domain.CallSession) {
		select {
		case incoming <- c:
		default:
		}
	})

	fmt.Printf("waiting for calls as %s, Ctrl-C to quit\n", flagUser)
	select {
	case <-ctx.Done():
		return nil
	case c := <-incoming:
		fmt.Printf("incoming %s call from %s\n", c.Type, c.CallerID)
		if flagAutoReject {
			return sess.Reject()
		}
		if err := sess.Accept(ctx); err != nil {
			return fmt.Errorf("accept: %w", err)
		}
	}

	status := waitTerminal(ctx, sess, done)
	fmt.Println("final:", status)
	return nil
}
