package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/periljames/amo-portal-sub004/pkg/config"
	"github.com/periljames/amo-portal-sub004/pkg/stream"
	"github.com/urfave/cli/v3"
)

// TailCommand creates a CLI command that connects straight to the
// backend event stream and writes each event to stdout as NDJSON.
//
// Typical usage:
//
//	portalsync tail
//	portalsync tail --cursor evt-12345
//	portalsync tail | jq -r 'select(.entityType=="task") | .action'
//
// The cursor lives in memory only: tail never touches the durable
// session state, so it is safe to run alongside a live session. It
// reconnects with the same backoff schedule the session uses and
// never exits until interrupted.
func TailCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "Stream raw activity events (NDJSON) from the backend to stdout",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "cursor",
				Usage: "Resume from this event id instead of the head of the stream",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print JSON instead of raw single-line",
				Value: false,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return tailStream(ctx, cfg, c.String("cursor"), c.Bool("pretty"))
		},
	}
}

// memoryCursors keeps the resume cursor for the lifetime of the tail
// process only.
type memoryCursors struct {
	mu     sync.Mutex
	cursor string
}

func (m *memoryCursors) Cursor(tenant string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor, nil
}

func (m *memoryCursors) SetCursor(tenant, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = id
	return nil
}

func (m *memoryCursors) ClearCursor(tenant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = ""
	return nil
}

func tailStream(ctx context.Context, cfg *config.Config, startCursor string, pretty bool) error {
	cursors := &memoryCursors{cursor: startCursor}

	printEvent := func(data []byte, transportCursor string) {
		if transportCursor != "" {
			if err := cursors.SetCursor(cfg.Tenant, transportCursor); err != nil {
				return
			}
		}
		if pretty {
			var buf bytes.Buffer
			if err := json.Indent(&buf, data, "", "  "); err == nil {
				fmt.Println(buf.String())
				return
			}
		}
		// Events arrive as single-line JSON already.
		os.Stdout.Write(append(bytes.TrimRight(data, "\n"), '\n'))
	}

	client := stream.NewClient(stream.Config{
		BaseURL: cfg.BaseURL,
		Tenant:  cfg.Tenant,
		Token:   cfg.Token,
		Cursors: cursors,
		Handler: printEvent,
		OnReset: func() {
			fmt.Fprintln(os.Stderr, "tail: server signaled reset, resuming from the head of the stream")
		},
		OnStatus: func(s stream.Status) {
			fmt.Fprintf(os.Stderr, "tail: stream %s\n", s)
		},
		OnServerTime: func(time.Time) {},
	})

	fmt.Fprintf(os.Stderr, "tail: connecting to %s\n", cfg.BaseURL)
	client.Run(ctx)
	return nil
}
