package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var jsonOutput, useWS bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream live player updates",
		Long: `Connect to the server's live feed and stream events in real-time.

Events include:
  - connected: Stream established (SSE only)
  - players: Snapshot of every player after a change

Secrets are only shown once they have been revealed.
Press Ctrl+C to disconnect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			handle := func(event, data string) { printEvent(os.Stdout, event, data, jsonOutput) }
			stream := streamSSE
			if useWS {
				stream = streamWS
			}

			if !jsonOutput {
				fmt.Printf("Connected to %s\n", cfg.ServerURL)
			}
			err := stream(ctx, cfg.ServerURL, cfg.Token, handle)
			if ctx.Err() != nil {
				err = nil
			}
			if err == nil && !jsonOutput {
				fmt.Println("Disconnected")
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output events as JSON lines")
	cmd.Flags().BoolVar(&useWS, "ws", false, "Use the WebSocket feed instead of SSE")

	return cmd
}

// SSEEvent represents a parsed feed event
type SSEEvent struct {
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	Data  string    `json:"data"`
}

// Snapshot is the payload of a players event
type Snapshot struct {
	Players []Player `json:"players"`
	Changed *Player  `json:"changed,omitempty"`
}

type eventHandler func(event, data string)

func streamSSE(ctx context.Context, serverURL, token string, handle eventHandler) error {
	url := strings.TrimSuffix(serverURL, "/") + "/api/v1/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	// No timeout for SSE
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := parseSSE(resp.Body, handle); err != nil {
		return fmt.Errorf("stream error: %w", err)
	}
	return nil
}

// parseSSE reads server-sent events from r until it ends. Comment lines
// (keepalives) are skipped and multi-line data is rejoined.
func parseSSE(r io.Reader, handle eventHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var currentEvent string
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			currentEvent = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		case line == "":
			// End of event
			if currentEvent != "" {
				handle(currentEvent, strings.Join(dataLines, "\n"))
			}
			currentEvent = ""
			dataLines = nil
		}
	}

	return scanner.Err()
}

// wsEnvelope mirrors the server's WebSocket frame
type wsEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func streamWS(ctx context.Context, serverURL, token string, handle eventHandler) error {
	url := strings.TrimSuffix(serverURL, "/") + "/api/v1/ws"
	url = "ws" + strings.TrimPrefix(url, "http")

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connection failed: unexpected status %d", resp.StatusCode)
		}
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return fmt.Errorf("stream error: %w", err)
		}
		handle(env.Type, string(env.Payload))
	}
}

func printEvent(w io.Writer, event, data string, jsonOutput bool) {
	now := time.Now()

	if jsonOutput {
		jsonData, _ := json.Marshal(SSEEvent{Time: now, Event: event, Data: data})
		_, _ = fmt.Fprintln(w, string(jsonData))
		return
	}

	timestamp := now.Format("2006-01-02 15:04:05")
	_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", timestamp, event, describeEvent(event, data))
}

// describeEvent renders an event for a terminal
func describeEvent(event, data string) string {
	if event == "players" {
		var snap Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err == nil {
			parts := make([]string, len(snap.Players))
			for i, p := range snap.Players {
				parts[i] = fmt.Sprintf("%s=%d", p.Username, p.Points)
				if p.Revealed && p.Secret != nil {
					parts[i] += fmt.Sprintf(" (%s)", *p.Secret)
				}
			}
			summary := strings.Join(parts, ", ")
			if snap.Changed != nil {
				summary = fmt.Sprintf("%s changed; %s", snap.Changed.Username, summary)
			}
			return summary
		}
	}

	// Truncate data if it's too long for display
	displayData := data
	if len(displayData) > 100 {
		displayData = displayData[:100] + "..."
	}
	return strings.ReplaceAll(displayData, "\n", " ")
}
