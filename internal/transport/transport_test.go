package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func waitLine(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case l, ok := <-ch:
		if !ok {
			t.Fatalf("lines channel closed")
		}
		return l
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for line")
	}
	return ""
}

func TestStreamRoundTrip(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	s := NewStream("test", inR, outW, inR, nil)
	defer s.Close()

	go func() {
		_, _ = io.WriteString(inW, "xboard\r\nprotover 2\n")
	}()
	if l := waitLine(t, s.Lines()); l != "xboard" {
		t.Fatalf("got %q", l)
	}
	if l := waitLine(t, s.Lines()); l != "protover 2" {
		t.Fatalf("got %q", l)
	}

	got := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(outR).ReadString('\n')
		got <- line
	}()
	if err := s.Send("feature setboard=1"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if l := <-got; l != "feature setboard=1\n" {
		t.Fatalf("wrote %q", l)
	}
}

func TestStreamEOFClosesLines(t *testing.T) {
	s := NewStream("test", strings.NewReader("go\nforce\n"), io.Discard, nil, nil)
	deadline := time.After(2 * time.Second)
	var lines []string
	for {
		select {
		case l, ok := <-s.Lines():
			if !ok {
				if len(lines) != 2 || lines[0] != "go" || lines[1] != "force" {
					t.Fatalf("lines = %v", lines)
				}
				return
			}
			lines = append(lines, l)
		case <-deadline:
			t.Fatalf("timed out")
		}
	}
}

func TestStreamSendAfterClose(t *testing.T) {
	s := NewStream("test", strings.NewReader(""), io.Discard, nil, nil)
	_ = s.Close()
	if err := s.Send("move e2e4"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

type chanTransport struct{ ch chan string }

func (c chanTransport) Lines() <-chan string { return c.ch }
func (c chanTransport) Send(string) error    { return nil }
func (c chanTransport) Close() error         { return nil }

func TestPoll(t *testing.T) {
	c := chanTransport{ch: make(chan string, 4)}
	if lines, ok := Poll(c, 0); len(lines) != 0 || !ok {
		t.Fatalf("empty poll = %v %v", lines, ok)
	}
	c.ch <- "a"
	c.ch <- "b"
	c.ch <- "c"
	lines, ok := Poll(c, 2)
	if !ok || len(lines) != 2 || lines[1] != "b" {
		t.Fatalf("poll = %v %v", lines, ok)
	}
	close(c.ch)
	lines, ok = Poll(c, 0)
	if ok || len(lines) != 1 || lines[0] != "c" {
		t.Fatalf("final poll = %v %v", lines, ok)
	}
}

func TestParseRedisURL(t *testing.T) {
	opts, err := parseRedisURL("redis://:secret@localhost:6380/2")
	if err != nil {
		t.Fatalf("parseRedisURL: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 || opts.TLSConfig != nil {
		t.Fatalf("opts = %+v", opts)
	}
	tlsOpts, err := parseRedisURL("rediss://cache.example:6379")
	if err != nil || tlsOpts.TLSConfig == nil {
		t.Fatalf("rediss: %+v %v", tlsOpts, err)
	}
	if _, err := parseRedisURL("http://localhost"); err == nil {
		t.Fatalf("expected scheme error")
	}
	if _, err := parseRedisURL("redis://localhost/x"); err == nil {
		t.Fatalf("expected db error")
	}
}

func TestRedisTransport(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	ctx := context.Background()

	tr, err := DialRedis(ctx, fmt.Sprintf("redis://%s/0", mr.Addr()), "board1", nil)
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	defer tr.Close()

	peer := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer peer.Close()
	out := peer.Subscribe(ctx, "board1:out")
	defer out.Close()
	if _, err := out.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := peer.Publish(ctx, "board1:in", "new\ngo").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if l := waitLine(t, tr.Lines()); l != "new" {
		t.Fatalf("got %q", l)
	}
	if l := waitLine(t, tr.Lines()); l != "go" {
		t.Fatalf("got %q", l)
	}

	if err := tr.Send("move e2e4"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg, err := out.ReceiveMessage(ctx)
	if err != nil || msg.Payload != "move e2e4" {
		t.Fatalf("peer got %+v %v", msg, err)
	}
	hist, err := tr.History(ctx, 10)
	if err != nil || len(hist) != 1 || hist[0] != "move e2e4" {
		t.Fatalf("history = %v %v", hist, err)
	}

	_ = tr.Close()
	if err := tr.Send("move d2d4"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
