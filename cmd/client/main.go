package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

type Config struct {
	ServerAddress string `envconfig:"RELAY_ADDR" default:"localhost:8080"`
	Email         string `envconfig:"RELAY_EMAIL" required:"true"`
	Password      string `envconfig:"RELAY_PASSWORD" required:"true"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"INFO"`
	// RELAY_COLOURS enables colorized output for better readability
	Colours bool `envconfig:"RELAY_COLOURS" default:"true"`
}

type frame struct {
	Event      string    `json:"event"`
	ID         uint64    `json:"id,omitempty"`
	SenderID   string    `json:"senderId,omitempty"`
	ReceiverID string    `json:"receiverId,omitempty"`
	Content    string    `json:"content,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
	ClientID   string    `json:"clientId,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	UserID     string    `json:"userId,omitempty"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run logs in, opens the realtime channel and sends one message per "receiver: text" line of stdin.
func run() (int, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	color.Enable = config.Colours

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, err := login(ctx, config)
	if err != nil {
		return exitRuntime, err
	}

	endpoint := url.URL{Scheme: "ws", Host: config.ServerAddress, Path: "/ws"}
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to relay at %s: %w", config.ServerAddress, err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.Close()
	}()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()
	go writeLines(os.Stdin, conn, func(err error) { log.Warn("Line ignored", "error", err) })

	for {
		var in frame
		if err := conn.ReadJSON(&in); err != nil {
			if ctx.Err() != nil {
				return exitOK, nil
			}
			return exitRuntime, fmt.Errorf("stream error: %w", err)
		}
		fmt.Println(render(in))
	}
}

func login(ctx context.Context, config Config) (string, error) {
	body, err := json.Marshal(map[string]string{"email": config.Email, "password": config.Password})
	if err != nil {
		return "", err
	}
	endpoint := url.URL{Scheme: "http", Host: config.ServerAddress, Path: "/auth/login"}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed with status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("login response: %w", err)
	}
	return out.Token, nil
}

func writeLines(in io.Reader, conn *websocket.Conn, onError func(error)) {
	scanner := bufio.NewScanner(in)
	seq := 0
	for scanner.Scan() {
		out, err := parseLine(scanner.Text())
		if err != nil {
			onError(err)
			continue
		}
		seq++
		out.ClientID = fmt.Sprintf("cli-%d", seq)
		if err := conn.WriteJSON(out); err != nil {
			onError(err)
			return
		}
	}
}

// parseLine reads "receiver: text".
func parseLine(line string) (frame, error) {
	receiver, content, ok := strings.Cut(line, ":")
	receiver, content = strings.TrimSpace(receiver), strings.TrimSpace(content)
	if !ok || receiver == "" || content == "" {
		return frame{}, fmt.Errorf("expected \"receiver: text\", got %q", line)
	}
	return frame{Event: "send", ReceiverID: receiver, Content: content}, nil
}

func render(in frame) string {
	switch in.Event {
	case "message":
		return color.Sprintf("<gray>[%s]</> <green>%s</> → %s: %s",
			in.Timestamp.Local().Format(time.TimeOnly), in.SenderID, in.ReceiverID, in.Content)
	case "sent":
		return color.Sprintf("<gray>[%s]</> <cyan>sent #%d (%s)</>",
			in.Timestamp.Local().Format(time.TimeOnly), in.ID, in.ClientID)
	case "error":
		return color.Sprintf("<red>error %s</> %s (%s)", in.Reason, in.Detail, in.ClientID)
	case "ready":
		return color.Sprintf("<yellow>connected as %s</>", in.UserID)
	default:
		return color.Sprintf("<gray>%s</>", in.Event)
	}
}
