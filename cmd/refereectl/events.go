package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/refereehq/referee/core/infra/bus"
	"github.com/spf13/cobra"
)

const eventRetryDelay = 2 * time.Second

// eventSource is the part of the NATS bus the events command needs.
type eventSource interface {
	Subscribe(subject, queue string, handler func(*bus.EditorEvent) error) error
	ConnectedURL() string
	Close()
}

func dialNats(url string) (eventSource, error) {
	return bus.NewNatsBus(url)
}

type eventFilter struct {
	session string
	kind    string
}

func (f eventFilter) match(ev *bus.EditorEvent) bool {
	if f.session != "" && ev.SessionID != f.session {
		return false
	}
	return f.kind == "" || ev.Kind == f.kind
}

// buildEventsCmd tails editor events published by the gateway.
func buildEventsCmd(dial func(url string) (eventSource, error)) *cobra.Command {
	var (
		natsURL string
		subject string
		queue   string
		filter  eventFilter
		count   int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail editor events from NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := dial(natsURL)
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer src.Close()

			out := cmd.OutOrStdout()
			done := make(chan struct{})
			var (
				mu   sync.Mutex
				seen int
				stop sync.Once
			)
			handler := func(ev *bus.EditorEvent) error {
				if ev == nil || !filter.match(ev) {
					return nil
				}
				mu.Lock()
				defer mu.Unlock()
				if count > 0 && seen >= count {
					return nil
				}
				if err := writeEvent(out, ev, asJSON); err != nil {
					return bus.RetryAfter(err, eventRetryDelay)
				}
				seen++
				if count > 0 && seen >= count {
					stop.Do(func() { close(done) })
				}
				return nil
			}
			if err := src.Subscribe(subject, queue, handler); err != nil {
				return fmt.Errorf("subscribe %s: %w", subject, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s (%s)\n", subject, src.ConnectedURL())

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats", envOr("NATS_URL", "nats://localhost:4222"), "nats url")
	cmd.Flags().StringVar(&subject, "subject", envOr("EDITOR_EVENT_SUBJECT", bus.DefaultEditorSubject), "event subject")
	cmd.Flags().StringVar(&queue, "queue", "", "queue group, to share events between several tails")
	cmd.Flags().StringVar(&filter.session, "session", "", "only events of this session")
	cmd.Flags().StringVar(&filter.kind, "kind", "", "only events of this kind")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON events")
	return cmd
}

func writeEvent(w io.Writer, ev *bus.EditorEvent, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(ev)
	}
	line := fmt.Sprintf("%s %-18s %s rev=%d valid=%t errors=%d", ev.Time.Format(time.RFC3339), ev.Kind, ev.SessionID, ev.Revision, ev.Valid, ev.ErrorCount)
	if ev.Op != "" {
		line += " op=" + ev.Op
	}
	if ev.Outcome != "" {
		line += " outcome=" + ev.Outcome
	}
	if ev.Detail != "" {
		line += fmt.Sprintf(" detail=%q", ev.Detail)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
