package reader

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

func TestConnDeliversTextFrames(t *testing.T) {
	_, url := fakeFeed{frames: []string{"a", "b"}, binary: true}.serve(t)

	conn, err := Dial(context.Background(), url, DialOptions{HandshakeTimeout: time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	var mu sync.Mutex
	var got []string
	received := make(chan struct{})
	conn.OnMessage(func(b []byte) {
		mu.Lock()
		got = append(got, string(b))
		if len(got) == 2 {
			close(received)
		}
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() { done <- conn.Run() }()

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("frames not delivered")
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("run after close returned %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected frames: %v", got)
	}
}

func TestConnCloseIdempotent(t *testing.T) {
	_, url := fakeFeed{}.serve(t)

	conn, err := Dial(context.Background(), url, DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	first := conn.Close()
	second := conn.Close()
	if first != second {
		t.Errorf("close results differ: %v vs %v", first, second)
	}
	if err := conn.Run(); err != nil {
		t.Errorf("run on closed conn returned %v", err)
	}
}

func TestConnPeerDropIsConnectionError(t *testing.T) {
	_, url := fakeFeed{frames: []string{"x"}, closeAfter: true}.serve(t)

	conn, err := Dial(context.Background(), url, DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	var reported error
	conn.OnError(func(err error) { reported = err })

	runErr := conn.Run()
	var ferr *FeedConnectionError
	if !errors.As(runErr, &ferr) {
		t.Fatalf("expected FeedConnectionError, got %v", runErr)
	}
	if ferr.Op != "read" || ferr.Endpoint != url {
		t.Errorf("unexpected error fields: %+v", ferr)
	}
	if reported != runErr {
		t.Errorf("error handler saw %v", reported)
	}
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/stream", DialOptions{HandshakeTimeout: time.Second})
	var ferr *FeedConnectionError
	if !errors.As(err, &ferr) || ferr.Op != "dial" {
		t.Fatalf("expected dial FeedConnectionError, got %v", err)
	}
}

func TestConnReadTimeout(t *testing.T) {
	_, url := fakeFeed{}.serve(t)

	conn, err := Dial(context.Background(), url, DialOptions{ReadTimeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- conn.Run() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after read timeout")
	}

	var ferr *FeedConnectionError
	if !errors.As(runErr, &ferr) || ferr.Op != "read" {
		t.Fatalf("expected read FeedConnectionError, got %v", runErr)
	}
	var netErr net.Error
	if !errors.As(runErr, &netErr) || !netErr.Timeout() {
		t.Errorf("expected a timeout, got %v", runErr)
	}
}
