package main

import (
	"testing"

	"github.com/gookit/color"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    frame
		wantErr bool
	}{
		{"Receiver and text", "bob: hello there", frame{Event: "send", ReceiverID: "bob", Content: "hello there"}, false},
		{"Colon inside text", "bob: see you at 10:30", frame{Event: "send", ReceiverID: "bob", Content: "see you at 10:30"}, false},
		{"No separator", "hello", frame{}, true},
		{"Empty text", "bob:   ", frame{}, true},
		{"Empty receiver", ": hello", frame{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			got, err := parseLine(tt.line)
			if tt.wantErr {
				req.Error(err)
				return
			}
			req.NoError(err)
			req.Equal(tt.want, got)
		})
	}
}

func TestRender(t *testing.T) {
	req := require.New(t)
	color.Enable = false

	req.Equal("connected as alice", render(frame{Event: "ready", UserID: "alice"}))
	req.Equal("error empty_content content must not be empty (cli-1)",
		render(frame{Event: "error", Reason: "empty_content", Detail: "content must not be empty", ClientID: "cli-1"}))
}
