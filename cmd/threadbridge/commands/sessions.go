package commands

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/threadbridge/internal/config"
	"github.com/opencode-ai/threadbridge/pkg/types"
)

var sessionsURL string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List live sessions of a running server",
	RunE:  runSessions,
}

var sessionsKillCmd = &cobra.Command{
	Use:   "kill <session-id>",
	Short: "End a session immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionAction(http.MethodDelete, "/session/"+args[0])
	},
}

var sessionsPauseCmd = &cobra.Command{
	Use:   "pause <session-id>",
	Short: "Pause a session; the next message in its thread resumes it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionAction(http.MethodPost, "/session/"+args[0]+"/pause")
	},
}

func init() {
	sessionsCmd.PersistentFlags().StringVar(&sessionsURL, "url", "", "Server URL (default from config)")
	sessionsCmd.AddCommand(sessionsKillCmd)
	sessionsCmd.AddCommand(sessionsPauseCmd)
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func baseURL() (string, error) {
	if sessionsURL != "" {
		return sessionsURL, nil
	}
	workDir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	appConfig, err := config.Load(workDir)
	if err != nil {
		return "", err
	}
	settings, err := config.Resolve(appConfig)
	if err != nil {
		return "", err
	}
	return "http://" + net.JoinHostPort(settings.Hostname, strconv.Itoa(settings.Port)), nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	base, err := baseURL()
	if err != nil {
		return err
	}
	resp, err := httpClient.Get(base + "/session")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var infos []types.SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		return fmt.Errorf("decode sessions: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No live sessions.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTHREAD\tSTATE\tSTARTED BY\tIDLE")
	now := time.Now()
	for _, info := range infos {
		idle := now.Sub(time.UnixMilli(info.LastActivity)).Truncate(time.Second)
		fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%s\n", info.ID, info.PlatformID, info.ThreadID, info.State, info.StartedBy, idle)
	}
	return tw.Flush()
}

func sessionAction(method, path string) error {
	base, err := baseURL()
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, base+path, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	fmt.Println("ok")
	return nil
}

func apiError(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error.Message == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return fmt.Errorf("%s: %s", body.Error.Code, body.Error.Message)
}
