package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/tallyfinance/tally/internal/config"
	"github.com/tallyfinance/tally/pkg/protocol"
)

func tailCmd() *cobra.Command {
	var (
		addr  string
		token string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the live ops event feed",
		Long:  "Connects to the backend's WebSocket feed and prints pipeline events as they happen. Message text never rides the feed, only metadata.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(addr, token)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gateway address (default from config)")
	cmd.Flags().StringVar(&token, "token", "", "ops feed token (default from config)")
	return cmd
}

func runTail(addr, token string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr == "" {
		host := cfg.Gateway.Host
		if host == "0.0.0.0" || host == "" {
			host = "127.0.0.1"
		}
		addr = fmt.Sprintf("%s:%d", host, cfg.Gateway.Port)
	}
	if token == "" {
		token = cfg.Gateway.Token
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	url := "ws://" + addr + "/ws"
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, url, opts)
	cancel()
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	fmt.Printf("connected to %s\n", url)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed closed: %w", err)
		}
		printFrame(data)
	}
}

// printFrame renders one server push as a single log-style line.
func printFrame(data []byte) {
	var frame struct {
		Type    string          `json:"type"`
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != protocol.FrameEvent {
		return
	}
	if frame.Event == protocol.EventHeartbeat {
		return
	}

	ts := time.Now().Format("15:04:05")
	if len(frame.Payload) == 0 || string(frame.Payload) == "null" {
		fmt.Printf("%s  %-20s\n", ts, frame.Event)
		return
	}
	fmt.Printf("%s  %-20s %s\n", ts, frame.Event, compactPayload(frame.Payload))
}

// compactPayload flattens the payload object into key=value pairs in
// a stable, readable order.
func compactPayload(raw json.RawMessage) string {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return string(raw)
	}
	// Show the identifying fields first, everything else after.
	order := []string{"channel", "correlation_id", "user_id", "terminal", "tool", "lane", "type", "reason"}
	out := ""
	seen := make(map[string]bool, len(fields))
	appendField := func(k string, v any) {
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%s=%v", k, v)
		seen[k] = true
	}
	for _, k := range order {
		if v, ok := fields[k]; ok {
			appendField(k, v)
		}
	}
	for k, v := range fields {
		if !seen[k] {
			appendField(k, v)
		}
	}
	return out
}
