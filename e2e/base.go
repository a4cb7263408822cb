package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
)

type BaseRelaySuite struct {
	suite.Suite
	Config Config
	client *http.Client
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseRelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.RelayAddr == "" {
		s.T().Skip("RELAY_ADDR is not set, no relay to test against")
	}
	s.client = &http.Client{Timeout: 10 * time.Second}
}

// Step prints a colorized header for a scenario step
func (s *BaseRelaySuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// Call performs one JSON request and decodes the response body into out when the status matches.
func (s *BaseRelaySuite) Call(method, path, token string, body, out any, wantStatus int) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	endpoint := url.URL{Scheme: "http", Host: s.Config.RelayAddr}
	req, err := http.NewRequestWithContext(context.Background(), method, endpoint.String()+path, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)

	s.T().Logf("HTTP %s %s [%d] in %v", method, path, resp.StatusCode, time.Since(start))
	if s.Config.DebugJSON {
		s.T().Logf("RESPONSE:\n%s", raw)
	}
	s.Require().Equal(wantStatus, resp.StatusCode, string(raw))
	if out != nil {
		s.Require().NoError(json.Unmarshal(raw, out))
	}
}

// Dial opens an authenticated realtime channel.
func (s *BaseRelaySuite) Dial(token string) *websocket.Conn {
	endpoint := url.URL{Scheme: "ws", Host: s.Config.RelayAddr, Path: "/ws"}
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(endpoint.String(), header)
	s.Require().NoError(err, "Failed to connect to relay at "+s.Config.RelayAddr)
	return conn
}

// Read waits for the next frame of conn.
func (s *BaseRelaySuite) Read(conn *websocket.Conn) map[string]any {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	var frame map[string]any
	s.Require().NoError(conn.ReadJSON(&frame))
	if s.Config.DebugJSON {
		s.T().Logf("FRAME: %v", frame)
	}
	return frame
}
