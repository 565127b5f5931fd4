// Package cmd implements the callcli commands: dial, answer and history.
// The CLI is a reference client for the call server, useful for manual
// end-to-end testing without the app.
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/studypair/callkit/internal/call"
	"github.com/studypair/callkit/internal/channel"
	"github.com/studypair/callkit/internal/config"
	"github.com/studypair/callkit/internal/domain"
	"github.com/studypair/callkit/internal/records"
	"github.com/studypair/callkit/internal/rtc"
)

var (
	flagServer  string
	flagUser    string
	flagToken   string
	flagSTUN    []string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "callcli",
	Short: "Command-line client for the study-pair call server",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		if flagVerbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		}
	},
}

func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "http://localhost:8080", "call server base URL")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "user id to act as")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token (fetched from the dev endpoint when empty)")
	rootCmd.PersistentFlags().StringSliceVar(&flagSTUN, "stun", nil, "STUN server URLs (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(dialCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(historyCmd)
}

// fetchToken asks the server's dev endpoint for a token when none was given.
func fetchToken(ctx context.Context) (string, error) {
	if flagToken != "" {
		return flagToken, nil
	}
	if flagUser == "" {
		return "", fmt.Errorf("--user is required")
	}
	body, _ := json.Marshal(map[string]string{"userId": flagUser, "username": flagUser})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, flagServer+"/api/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch token: status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func wsURL() string {
	base := strings.Replace(flagServer, "http", "ws", 1)
	return base + "/api/ws/signal"
}

// newSession connects the signaling channel and builds a call session on it.
// Ring/grace timing and TURN credentials come from the config file; server
// address and STUN from flags.
func newSession(ctx context.Context) (*call.Session, *channel.WSChannel, error) {
	appCfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	token, err := fetchToken(ctx)
	if err != nil {
		return nil, nil, err
	}
	ch := channel.NewWSChannel(wsURL(), token)
	if err := ch.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect signaling: %w", err)
	}
	stun := flagSTUN
	if len(stun) == 0 {
		stun = appCfg.Call.STUNURLs
	}
	recs := records.NewHTTPSynchronizer(flagServer+"/api", token)
	sess := call.NewSession(call.Config{
		Self:           domain.UserID(flagUser),
		RingTimeout:    appCfg.Call.RingTimeout,
		ReconnectGrace: appCfg.Call.ReconnectGrace,
		RTC: rtc.Config{
			STUNURLs:     stun,
			TURNURLs:     appCfg.Call.TURNURLs,
			TURNUsername: appCfg.Call.TURNUsername,
			TURNPassword: appCfg.Call.TURNPassword,
		},
	}, ch, recs)
	return sess, ch, nil
}

// watchTerminal prints transitions and yields the terminal status. Register
// before initiating or accepting so no transition is missed.
func watchTerminal(sess *call.Session) <-chan domain.CallStatus {
	done := make(chan domain.CallStatus, 1)
	sess.OnStateChange(func(status domain.CallStatus) {
		fmt.Println("call:", status)
		if status.Terminal() {
			select {
			case done <- status:
			default:
			}
		}
	})
	return done
}

// waitTerminal blocks until the call reaches a terminal status or ctx ends.
func waitTerminal(ctx context.Context, sess *call.Session, done <-chan domain.CallStatus) domain.CallStatus {
	select {
	case status := <-done:
		return status
	case <-ctx.Done():
		_ = sess.Hangup()
		// Give the teardown a moment to flush the record.
		time.Sleep(200 * time.Millisecond)
		return domain.StatusEnded
	}
}
