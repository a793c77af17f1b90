package mailbox

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestCloseOnCancelUnblocksPendingRead(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := closeOnCancel(ctx, client)
	defer stop()

	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := client.Read(buf)
		readErr <- err
	}()

	cancel()

	select {
	case err := <-readErr:
		if err == nil {
			t.Fatal("read returned without error after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read still blocked after cancellation")
	}
}

func TestCloseOnCancelStopIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	stop := closeOnCancel(context.Background(), client)
	stop()
	stop()
}

func TestPOP3TrackerKey(t *testing.T) {
	tests := []struct {
		name string
		ref  Ref
		want string
	}{
		{"uidl available", Ref{Num: 3, UID: "abc123"}, "uidl:abc123"},
		{"no uidl falls back to sequence", Ref{Num: 7}, "seq:7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trackerKey(tt.ref); got != tt.want {
				t.Errorf("trackerKey(%+v) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}
