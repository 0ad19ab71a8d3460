package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/periljames/amo-portal-sub004/pkg/config"
	"github.com/periljames/amo-portal-sub004/pkg/event"
	"github.com/periljames/amo-portal-sub004/pkg/store"
	"github.com/urfave/cli/v3"
)

// QueueCommand creates the queue command for inspecting and managing
// the durable outbound queue.
func QueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Inspect and manage the outbound message queue",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List pending outbound envelopes in replay order",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output as JSON instead of a table",
						Value: false,
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return queueList(c.String("config"), c.Bool("json"))
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove a pending envelope by id",
				ArgsUsage: "<envelope-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() != 1 {
						return fmt.Errorf("usage: portalsync queue remove <envelope-id>")
					}
					return queueRemove(c.String("config"), c.Args().First())
				},
			},
			{
				Name:      "add",
				Usage:     "Enqueue an envelope for delivery by the next session",
				ArgsUsage: "<kind> [json-payload]",
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() < 1 {
						return fmt.Errorf("usage: portalsync queue add <kind> [json-payload]")
					}
					return queueAdd(c.String("config"), c.Args().First(), c.Args().Get(1))
				},
			},
		},
	}
}

func openQueueStore(configPath string) (*config.Config, *store.Store, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	st, err := store.Open(cfg.StorageDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening local store: %w", err)
	}
	return cfg, st, nil
}

func queueList(configPath string, asJSON bool) error {
	_, st, err := openQueueStore(configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
		}
	}()

	envelopes, err := st.LoadAll()
	if err != nil {
		return fmt.Errorf("loading queue: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(envelopes)
	}

	if len(envelopes) == 0 {
		fmt.Println("Outbound queue is empty.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tQUEUED AT\tTENANT")
	for _, env := range envelopes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", env.ID, env.Kind, env.TS.Format("2006-01-02 15:04:05"), env.Tenant)
	}
	return w.Flush()
}

func queueRemove(configPath, id string) error {
	_, st, err := openQueueStore(configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
		}
	}()

	if err := st.Remove(id); err != nil {
		return fmt.Errorf("removing envelope %s: %w", id, err)
	}
	fmt.Printf("Removed envelope %s\n", id)
	return nil
}

func queueAdd(configPath, kind, rawPayload string) error {
	cfg, st, err := openQueueStore(configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
		}
	}()

	var payload map[string]any
	if rawPayload != "" {
		if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
	}

	env, err := event.NewEnvelope(cfg.Tenant, cfg.UserID, event.EnvelopeKind(kind), payload)
	if err != nil {
		return err
	}
	if err := st.Enqueue(env); err != nil {
		return fmt.Errorf("enqueueing envelope: %w", err)
	}
	fmt.Printf("Queued envelope %s (%s)\n", env.ID, env.Kind)
	return nil
}
