package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/coterie-ai/coterie/internal/bus"
	"github.com/coterie-ai/coterie/internal/config"
	"github.com/coterie-ai/coterie/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var addr, name string
	cmd := &cobra.Command{
		Use:   "chat <channel>",
		Short: "Join a channel from the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			if name == "" {
				name = os.Getenv("USER")
			}
			if name == "" {
				name = "me"
			}
			return runChat(cfg, addr, args[0], name)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gateway address (default from config)")
	cmd.Flags().StringVar(&name, "name", "", "display name to post as (default $USER)")
	return cmd
}

// chatClient multiplexes one WebSocket connection: the read loop routes
// response frames to the caller waiting on that request id and prints
// channel events as they arrive.
type chatClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.ResponseFrame

	channel string
}

func runChat(cfg *config.Config, addr, channel, name string) error {
	wsURL := fmt.Sprintf("ws://%s/ws", addr)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", wsURL, err)
	}
	defer conn.Close()

	c := &chatClient{
		conn:    conn,
		pending: make(map[string]chan protocol.ResponseFrame),
		channel: channel,
	}
	go c.readLoop()

	if _, err := c.call(protocol.MethodConnect, map[string]string{"token": cfg.Gateway.Token}); err != nil {
		return fmt.Errorf("gateway auth: %w", err)
	}

	// First post auto-joins the channel as a person member.
	senderID := "person:" + slugify(name)

	fmt.Fprintf(os.Stderr, "Chatting in #%s as %s. Type a message, \"/history\" or \"exit\".\n\n", channel, name)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if !scanner.Scan() {
			return nil
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		switch {
		case input == "exit" || input == "quit":
			return nil
		case input == "/history":
			c.printHistory()
		case input == "/channels":
			c.printChannels()
		default:
			_, err := c.call(protocol.MethodChannelsPost, map[string]string{
				"channel":     channel,
				"sender_id":   senderID,
				"sender_name": name,
				"content":     input,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "post failed: %v\n", err)
			}
		}
	}
}

func (c *chatClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nconnection closed: %v\n", err)
			os.Exit(0)
		}

		// Events carry an "event" key, responses an "id".
		var probe struct {
			Event string `json:"event"`
			ID    string `json:"id"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			continue
		}

		if probe.Event != "" {
			c.handleEvent(probe.Event, data)
			continue
		}

		var resp protocol.ResponseFrame
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *chatClient) handleEvent(name string, data []byte) {
	switch name {
	case protocol.EventChannelMessage:
		var frame struct {
			Payload bus.InboundPost `json:"payload"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		if frame.Payload.Channel != c.channel {
			return
		}
		fmt.Printf("%s: %s\n", frame.Payload.SenderName, frame.Payload.Content)
	case protocol.EventHealth:
		// Informational tick, nothing to render.
	case protocol.EventShutdown:
		fmt.Fprintln(os.Stderr, "\ngateway shutting down")
		os.Exit(0)
	}
}

// call sends one request and waits for its response.
func (c *chatClient) call(method string, params interface{}) (json.RawMessage, error) {
	id := uuid.NewString()[:8]
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	respCh := make(chan protocol.ResponseFrame, 1)
	c.mu.Lock()
	c.pending[id] = respCh
	c.mu.Unlock()

	c.writeMu.Lock()
	err = c.conn.WriteJSON(protocol.RequestFrame{ID: id, Method: method, Params: paramsJSON})
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-respCh:
		if !resp.OK {
			return nil, fmt.Errorf("%s: %s", method, resp.Error)
		}
		raw, _ := json.Marshal(resp.Result)
		return raw, nil
	case <-time.After(30 * time.Second):
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: timed out", method)
	}
}

func (c *chatClient) printHistory() {
	raw, err := c.call(protocol.MethodChannelsHistory, map[string]interface{}{
		"channel": c.channel,
		"limit":   20,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "history failed: %v\n", err)
		return
	}
	var msgs []struct {
		SenderName string    `json:"senderName"`
		Content    string    `json:"content"`
		CreatedAt  time.Time `json:"createdAt"`
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		fmt.Fprintf(os.Stderr, "history decode failed: %v\n", err)
		return
	}
	for _, m := range msgs {
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.SenderName, m.Content)
	}
}

func (c *chatClient) printChannels() {
	raw, err := c.call(protocol.MethodChannelsList, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
		return
	}
	var chans []struct {
		Name        string `json:"name"`
		MemberCount int    `json:"memberCount"`
		UnreadCount int    `json:"unreadCount"`
	}
	if err := json.Unmarshal(raw, &chans); err != nil {
		fmt.Fprintf(os.Stderr, "list decode failed: %v\n", err)
		return
	}
	for _, ch := range chans {
		fmt.Printf("#%s (%d members, %d unread)\n", ch.Name, ch.MemberCount, ch.UnreadCount)
	}
}
