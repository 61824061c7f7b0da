package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/vibetunnel/core/internal/config"
)

// sessionSummary mirrors the fields of session.Session this CLI prints;
// kept local (rather than importing internal/session) since it only
// needs to decode the control API's JSON response.
type sessionSummary struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Command    []string `json:"command"`
	Status     string   `json:"status"`
	PID        int      `json:"pid"`
	WorkingDir string   `json:"workingDir"`
}

func serverBaseURL() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port), nil
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect sessions on a running server",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsKillCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := serverBaseURL()
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Get(base + "/api/sessions")
			if err != nil {
				return fmt.Errorf("connecting to server: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned %s", resp.Status)
			}

			var sessions []sessionSummary
			if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}

			if len(sessions) == 0 {
				fmt.Println("No sessions.")
				return nil
			}
			for _, s := range sessions {
				fmt.Printf("%s  %-8s  pid=%d  %s\n", s.ID, s.Status, s.PID, s.WorkingDir)
			}
			return nil
		},
	}
}

func newSessionsKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <id>",
		Short: "Kill a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := serverBaseURL()
			if err != nil {
				return err
			}

			req, err := http.NewRequest(http.MethodDelete, base+"/api/sessions/"+args[0], nil)
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("connecting to server: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusNoContent {
				return fmt.Errorf("server returned %s", resp.Status)
			}
			fmt.Printf("Killed session: %s\n", args[0])
			return nil
		},
	}
}
