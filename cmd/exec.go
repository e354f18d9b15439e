package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	httpapi "github.com/nextlevelbuilder/agentgate/internal/http"
	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

func execCmd() *cobra.Command {
	var (
		input    string
		vars     []string
		convID   string
		url      string
		token    string
		debug    bool
		raw      bool
		buffered bool
	)
	cmd := &cobra.Command{
		Use:   "exec <agent-id>",
		Short: "Run an agent on a gateway and print its event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			variables, err := parseVars(vars)
			if err != nil {
				return err
			}
			if input == "-" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				input = string(data)
			}
			if url == "" || token == "" {
				if cfg, err := loadConfig(); err == nil {
					if url == "" {
						host := cfg.Gateway.Host
						if host == "" || host == "0.0.0.0" {
							host = "127.0.0.1"
						}
						url = fmt.Sprintf("http://%s:%d", host, cfg.Gateway.Port)
					}
					if token == "" {
						token = cfg.Gateway.Token
					}
				}
			}

			stream := !buffered
			req := protocol.ExecuteRequest{
				AgentID:        args[0],
				UserInput:      protocol.UserInput{Text: input},
				Variables:      variables,
				ConversationID: convID,
				Stream:         &stream,
				Debug:          debug,
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return runExec(ctx, url, token, req, raw, os.Stdout)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "user input (- reads stdin)")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "template variable key=value (repeatable)")
	cmd.Flags().StringVar(&convID, "conversation", "", "conversation id")
	cmd.Flags().StringVar(&url, "url", "", "gateway base URL (default from config)")
	cmd.Flags().StringVar(&token, "token", "", "gateway bearer token (default from config)")
	cmd.Flags().BoolVar(&debug, "debug", false, "request debug events")
	cmd.Flags().BoolVar(&raw, "raw", false, "print raw NDJSON lines")
	cmd.Flags().BoolVar(&buffered, "no-stream", false, "wait for the terminal event only")
	return cmd
}

// parseVars turns key=value pairs into a map. Values that parse as JSON
// (numbers, booleans, objects) keep their type.
func parseVars(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid %q: expected key=value", p)
		}
		var typed interface{}
		if err := json.Unmarshal([]byte(v), &typed); err == nil {
			out[k] = typed
		} else {
			out[k] = v
		}
	}
	return out, nil
}

func runExec(ctx context.Context, baseURL, token string, req protocol.ExecuteRequest, raw bool, out io.Writer) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/agent/execute", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()
	if id := resp.Header.Get(httpapi.HeaderConversationID); id != "" && !raw {
		fmt.Fprintf(os.Stderr, "conversation: %s\n", id)
	}

	var (
		terminal   *protocol.Event
		sawContent bool
	)
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if raw {
			fmt.Fprintln(out, string(line))
		}
		var ev protocol.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			if resp.StatusCode >= 400 {
				return fmt.Errorf("gateway returned %s: %s", resp.Status, string(line))
			}
			return fmt.Errorf("decode event: %w", err)
		}
		if !raw {
			printEvent(out, ev)
			if ev.Event == protocol.EventContent {
				sawContent = true
			}
			if ev.Event == protocol.EventDone && !sawContent {
				fmt.Fprintln(out, ev.Data["result"])
			}
		}
		if ev.IsTerminal() {
			terminal = &ev
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	if terminal == nil {
		return fmt.Errorf("stream ended without a terminal event (%s)", resp.Status)
	}
	if terminal.Event == protocol.EventError {
		return fmt.Errorf("session failed: %v", terminal.Data["message"])
	}
	return nil
}

// printEvent renders one event for a terminal.
func printEvent(out io.Writer, ev protocol.Event) {
	d := ev.Data
	switch ev.Event {
	case protocol.EventContent:
		fmt.Fprint(out, d["text"])
		fmt.Fprintln(out)
	case protocol.EventToolUse:
		input, _ := json.Marshal(d["input"])
		fmt.Fprintf(out, "→ %v %s\n", d["tool"], input)
	case protocol.EventToolResult:
		marker := "←"
		if isErr, _ := d["is_error"].(bool); isErr {
			marker = "✗"
		}
		fmt.Fprintf(out, "%s %v: %v\n", marker, d["tool"], d["result"])
	case protocol.EventRecipeCall:
		fmt.Fprintf(out, "↳ recipe %v (depth %v): %v\n", d["recipe_id"], d["depth"], d["task"])
	case protocol.EventStatus:
		fmt.Fprintf(os.Stderr, "[%v]\n", d["status"])
	case protocol.EventUsage:
		fmt.Fprintf(os.Stderr, "usage: in=%v out=%v total=%v\n", d["input_tokens"], d["output_tokens"], d["total_tokens"])
	case protocol.EventDebug:
		data, _ := json.Marshal(d)
		fmt.Fprintf(os.Stderr, "debug: %s\n", data)
	case protocol.EventError:
		fmt.Fprintf(os.Stderr, "error (%v): %v\n", d["layer"], d["message"])
	}
}
