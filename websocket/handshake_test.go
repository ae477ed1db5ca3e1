package websocket

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
)

// TestComputeAcceptKey_RFCExample checks the worked example from RFC 6455
// Section 1.3.
func TestComputeAcceptKey_RFCExample(t *testing.T) {
	got := computeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("computeAcceptKey = %q, want %q", got, want)
	}
}

func TestPerformHandshake_Success(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	request := "GET /chat HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"

	go func() {
		_, _ = io.WriteString(client, request)
	}()

	// net.Pipe is unbuffered, so the 101 response must be read concurrently
	// or performHandshake's write would block forever.
	type statusLine struct {
		line string
		err  error
	}
	respc := make(chan statusLine, 1)
	go func() {
		line, err := bufio.NewReader(client).ReadString('\n')
		respc <- statusLine{line, err}
	}()

	result, err := performHandshake(server, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("performHandshake failed: %v", err)
	}
	if result.headers["Sec-WebSocket-Key"] != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Errorf("headers[Sec-WebSocket-Key] = %q", result.headers["Sec-WebSocket-Key"])
	}

	sl := <-respc
	resp, err := sl.line, sl.err
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if !strings.Contains(resp, "101 Switching Protocols") {
		t.Errorf("response status line = %q", resp)
	}
}

func TestPerformHandshake_MissingKeyRejected(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	request := "GET /chat HTTP/1.1\r\nHost: example.com\r\n\r\n"
	go func() {
		_, _ = io.WriteString(client, request)
	}()
	// Drain the 400 response so the write on the unbuffered pipe completes.
	go func() { _, _ = io.Copy(io.Discard, client) }()

	_, err := performHandshake(server, DefaultConfig(), nil)
	if err != ErrHandshakeParse {
		t.Fatalf("err = %v, want ErrHandshakeParse", err)
	}
}

func TestPerformHandshake_RejectedByApplication(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	request := "GET /chat HTTP/1.1\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	go func() {
		_, _ = io.WriteString(client, request)
	}()
	// Drain the 400 response so the write on the unbuffered pipe completes.
	go func() { _, _ = io.Copy(io.Discard, client) }()

	_, err := performHandshake(server, DefaultConfig(), func(map[string]string) bool { return false })
	if err != ErrHandshakeRejected {
		t.Fatalf("err = %v, want ErrHandshakeRejected", err)
	}
}

func TestPerformHandshake_CompressionRequiresExtension(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	request := "GET /chat HTTP/1.1\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	go func() {
		_, _ = io.WriteString(client, request)
	}()
	// Drain the 400 response so the write on the unbuffered pipe completes.
	go func() { _, _ = io.Copy(io.Discard, client) }()

	cfg := DefaultConfig()
	cfg.Compression = true

	_, err := performHandshake(server, cfg, nil)
	if err != ErrHandshakeParse {
		t.Fatalf("err = %v, want ErrHandshakeParse", err)
	}
}

func TestHeaderContainsToken(t *testing.T) {
	if !headerContainsToken("permessage-deflate; client_max_window_bits", "permessage-deflate") {
		t.Error("expected token match with parameters present")
	}
	if headerContainsToken("gzip, deflate", "permessage-deflate") {
		t.Error("unexpected token match")
	}
}
