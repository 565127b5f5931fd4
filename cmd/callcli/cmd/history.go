package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/studypair/callkit/internal/callrecord"
)

var flagLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the user's call history, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return history()
	},
}

func init() {
	historyCmd.Flags().IntVar(&flagLimit, "limit", 20, "maximum entries")
}

func history() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token, err := fetchToken(ctx)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/calls/history?limit=%d", flagServer, flagLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch history: status %d", resp.StatusCode)
	}

	var out struct {
		Calls []callrecord.Record `json:"calls"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	if len(out.Calls) == 0 {
		fmt.Println("no calls yet")
		return nil
	}
	for _, rec := range out.Calls {
		other := rec.RecipientID
		dir := "->"
		if string(rec.RecipientID) == flagUser {
			other = rec.CallerID
			dir = "<-"
		}
		fmt.Printf("%s  %s %s  %-8s  %-8s  %ds\n",
			rec.StartedAt.Format("2006-01-02 15:04"), dir, other, rec.CallType, rec.Status, rec.Duration)
	}
	return nil
}
