package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/periljames/amo-portal-sub004/pkg/config"
	"github.com/urfave/cli/v3"
)

// StatusCommand creates the status command: it queries the status
// listener of a running session and prints the snapshot.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the status of a running sync session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Status listener address (overrides config listen_addr)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			addr := c.String("listen")
			if addr == "" {
				cfg, err := config.LoadConfig(c.String("config"))
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				addr = cfg.ListenAddr
			}
			if addr == "" {
				return fmt.Errorf("no status listener configured (flag --listen or config listen_addr required)")
			}
			return showStatus(ctx, addr, c.Bool("json"))
		},
	}
}

func showStatus(ctx context.Context, addr string, asJSON bool) error {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/api/status", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("is a session running? querying %s: %w", addr, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fmt.Printf("Warning: failed to close response body: %v\n", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status listener returned %d: %s", resp.StatusCode, body)
	}

	if asJSON {
		fmt.Println(string(body))
		return nil
	}

	var snap struct {
		Status        string    `json:"status"`
		BrokerState   string    `json:"brokerState"`
		BackendHealth string    `json:"backendHealth"`
		IsOnline      bool      `json:"isOnline"`
		IsStale       bool      `json:"isStale"`
		ClockSource   string    `json:"clockSource"`
		ClockOffsetMS int64     `json:"clockOffsetMs"`
		LastUpdated   time.Time `json:"lastUpdated"`
		QueueDepth    int       `json:"queueDepth"`
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return fmt.Errorf("parsing status response: %w", err)
	}

	fmt.Printf("Stream:          %s\n", snap.Status)
	fmt.Printf("Broker:          %s\n", snap.BrokerState)
	fmt.Printf("Backend health:  %s\n", snap.BackendHealth)
	fmt.Printf("Online:          %v\n", snap.IsOnline)
	fmt.Printf("Stale:           %v\n", snap.IsStale)
	fmt.Printf("Clock source:    %s (offset %dms)\n", snap.ClockSource, snap.ClockOffsetMS)
	if !snap.LastUpdated.IsZero() {
		fmt.Printf("Last updated:    %s\n", snap.LastUpdated.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Queue depth:     %d\n", snap.QueueDepth)
	return nil
}
