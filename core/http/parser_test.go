package http

import "testing"

func TestParseHead_SimpleGET(t *testing.T) {
	raw := []byte("GET /hello?x=1 HTTP/1.1\r\nHost: x\r\n\r\n")
	req, n, err := ParseHead(raw, DefaultLimits)
	if err != nil {
		t.Fatalf("ParseHead: %v", err)
	}
	defer ReleaseRequest(req)

	if req.Method != "GET" || req.URL != "/hello" || req.Proto != "HTTP/1.1" {
		t.Fatalf("unexpected request line: %+v", req)
	}
	if v, _ := req.Headers.Get("Host"); v != "x" {
		t.Errorf("Host = %q", v)
	}
	if req.Query["x"] != "1" {
		t.Errorf("query x = %q", req.Query["x"])
	}
	if !req.KeepAlive {
		t.Error("HTTP/1.1 should default to keep-alive")
	}
	if n != len(raw) {
		t.Errorf("consumed = %d, want %d", n, len(raw))
	}
}

func TestParseHead_ConnectionClose(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\nConnection: close\r\n\r\n")
	req, _, err := ParseHead(raw, DefaultLimits)
	if err != nil {
		t.Fatalf("ParseHead: %v", err)
	}
	defer ReleaseRequest(req)
	if req.KeepAlive {
		t.Error("Connection: close should disable keep-alive")
	}
}

func TestParseHead_FoldedHeader(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\nX-Long: first\r\n second\r\n\r\n")
	req, _, err := ParseHead(raw, DefaultLimits)
	if err != nil {
		t.Fatalf("ParseHead: %v", err)
	}
	defer ReleaseRequest(req)
	if v, _ := req.Headers.Get("X-Long"); v != "first second" {
		t.Errorf("folded header = %q", v)
	}
}

func TestParseHead_LeadingBlankLines(t *testing.T) {
	raw := []byte("\r\nGET / HTTP/1.1\r\nHost: x\r\n\r\n")
	req, _, err := ParseHead(raw, DefaultLimits)
	if err != nil {
		t.Fatalf("ParseHead: %v", err)
	}
	defer ReleaseRequest(req)
	if req.LeadingBlankLines != 1 {
		t.Errorf("LeadingBlankLines = %d, want 1", req.LeadingBlankLines)
	}
}

func TestParseHead_ContentLengthBoundaries(t *testing.T) {
	limits := Limits{MaxLine: 8192, MaxHeaders: 64, MaxInput: 10}

	ok := []byte("POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\n")
	req, _, err := ParseHead(ok, limits)
	if err != nil {
		t.Fatalf("Content-Length == max_input should be accepted: %v", err)
	}
	ReleaseRequest(req)

	tooBig := []byte("POST / HTTP/1.1\r\nContent-Length: 11\r\n\r\n")
	if _, _, err := ParseHead(tooBig, limits); err != ErrEntityTooLarge {
		t.Fatalf("Content-Length == max_input+1 should yield ErrEntityTooLarge, got %v", err)
	}
}

func TestParseHead_Expect100Continue(t *testing.T) {
	raw := []byte("POST / HTTP/1.1\r\nContent-Length: 5\r\nExpect: 100-continue\r\n\r\n")
	req, _, err := ParseHead(raw, DefaultLimits)
	if err != nil {
		t.Fatalf("ParseHead: %v", err)
	}
	defer ReleaseRequest(req)
	if !req.Expect100 {
		t.Error("Expect100 should be true")
	}
}

func TestParseHead_MalformedRequestLine(t *testing.T) {
	if _, _, err := ParseHead([]byte("GET\r\n\r\n"), DefaultLimits); err != ErrBadRequest {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestParseHead_HeaderCountLimit(t *testing.T) {
	limits := Limits{MaxLine: 8192, MaxHeaders: 2, MaxInput: 1 << 20}
	raw := []byte("GET / HTTP/1.1\r\nA: 1\r\nB: 2\r\nC: 3\r\n\r\n")
	if _, _, err := ParseHead(raw, limits); err != ErrHeaderTooLarge {
		t.Fatalf("expected ErrHeaderTooLarge, got %v", err)
	}
}

func TestParseHead_BasicAuth(t *testing.T) {
	// "alice:secret" base64-encoded
	raw := []byte("GET / HTTP/1.1\r\nAuthorization: Basic YWxpY2U6c2VjcmV0\r\n\r\n")
	req, _, err := ParseHead(raw, DefaultLimits)
	if err != nil {
		t.Fatalf("ParseHead: %v", err)
	}
	defer ReleaseRequest(req)
	if req.Auth.Method != AuthBasic || req.Auth.Username != "alice" || req.Auth.Password != "secret" {
		t.Errorf("auth = %+v", req.Auth)
	}
}

func TestParseHead_DigestAuth(t *testing.T) {
	raw := []byte(`GET / HTTP/1.1` + "\r\n" +
		`Authorization: Digest username="bob", realm="test", nonce="abc", uri="/", response="def"` + "\r\n\r\n")
	req, _, err := ParseHead(raw, DefaultLimits)
	if err != nil {
		t.Fatalf("ParseHead: %v", err)
	}
	defer ReleaseRequest(req)
	if req.Auth.Method != AuthDigest || req.Auth.Username != "bob" || req.Auth.Params["realm"] != "test" {
		t.Errorf("auth = %+v", req.Auth)
	}
}

func TestDecodeChunk_SingleChunkWithTrailer(t *testing.T) {
	req := AcquireRequest()
	defer ReleaseRequest(req)

	buf := []byte("5\r\nhello\r\n0\r\nX-Trailer: ignored\r\n\r\n")
	done, err := DecodeChunk(req, buf, DefaultLimits)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if !done {
		t.Fatal("expected done=true after terminating chunk and trailer")
	}
	if string(req.Body) != "hello" {
		t.Errorf("Body = %q", req.Body)
	}
}

func TestDecodeChunk_IncrementalAcrossReads(t *testing.T) {
	req := AcquireRequest()
	defer ReleaseRequest(req)

	partial := []byte("5\r\nhel")
	done, err := DecodeChunk(req, partial, DefaultLimits)
	if err != nil {
		t.Fatalf("DecodeChunk partial: %v", err)
	}
	if done {
		t.Fatal("should not be done yet")
	}

	full := []byte("5\r\nhello\r\n0\r\n\r\n")
	done, err = DecodeChunk(req, full, DefaultLimits)
	if err != nil {
		t.Fatalf("DecodeChunk full: %v", err)
	}
	if !done {
		t.Fatal("expected done=true")
	}
	if string(req.Body) != "hello" {
		t.Errorf("Body = %q", req.Body)
	}
}
