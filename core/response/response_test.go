package response

import (
	"bytes"
	"strings"
	"testing"

	"github.com/searchktools/naviserver/core/connpool"
)

type fakeSender struct {
	buf bytes.Buffer
}

func (f *fakeSender) SendBufs(bufs [][]byte) (int64, error) {
	var n int64
	for _, b := range bufs {
		m, _ := f.buf.Write(b)
		n += int64(m)
	}
	return n, nil
}

func TestPipeline_ReturnData_WritesStatusHeadersAndBody(t *testing.T) {
	p := New(Config{ServerSignature: "naviserver-go/1.0"}, nil, nil)
	c := &connpool.Conn{}
	s := &fakeSender{}

	if err := p.ReturnData(c, s, 0, 200, []byte("hello"), "text/plain"); err != nil {
		t.Fatalf("ReturnData: %v", err)
	}

	out := s.buf.String()
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("output = %q, want status line prefix", out)
	}
	if !strings.Contains(out, "Content-Type: text/plain\r\n") {
		t.Fatalf("output = %q, missing Content-Type", out)
	}
	if !strings.Contains(out, "Content-Length: 5\r\n") {
		t.Fatalf("output = %q, missing Content-Length", out)
	}
	if !strings.HasSuffix(out, "\r\n\r\nhello") {
		t.Fatalf("output = %q, want body after blank line", out)
	}
	if !c.HeadersSent {
		t.Fatal("HeadersSent should be true after ReturnData")
	}
}

func TestPipeline_UpdateHeaderReplacesPriorValue(t *testing.T) {
	p := New(Config{}, nil, nil)
	c := &connpool.Conn{}

	p.SetHeader(c, "X-Thing", "first")
	p.UpdateHeader(c, "X-Thing", "second")

	v, ok := c.OutputHeaders.Get("X-Thing")
	if !ok || v != "second" {
		t.Fatalf("X-Thing = %q, %v, want %q, true", v, ok, "second")
	}
}

func TestPipeline_CondSetHeaderSkipsIfPresent(t *testing.T) {
	p := New(Config{}, nil, nil)
	c := &connpool.Conn{}

	p.SetHeader(c, "X-Thing", "original")
	p.CondSetHeader(c, "X-Thing", "ignored")

	v, _ := c.OutputHeaders.Get("X-Thing")
	if v != "original" {
		t.Fatalf("X-Thing = %q, want original value preserved", v)
	}
}

func TestPipeline_SetHeaderAllowsRepeatsForSetCookie(t *testing.T) {
	p := New(Config{}, nil, nil)
	c := &connpool.Conn{}

	p.SetHeader(c, "Set-Cookie", "a=1")
	p.SetHeader(c, "Set-Cookie", "b=2")

	if got := c.OutputHeaders.Values("Set-Cookie"); len(got) != 2 {
		t.Fatalf("Set-Cookie values = %v, want 2 entries", got)
	}
}

func TestPipeline_ReturnNoticePadsErrorBody(t *testing.T) {
	p := New(Config{ErrorMinSize: 512}, nil, nil)
	c := &connpool.Conn{}
	s := &fakeSender{}

	if err := p.ReturnNotice(c, s, 0, 404, "Not Found", "missing"); err != nil {
		t.Fatalf("ReturnNotice: %v", err)
	}

	idx := strings.Index(s.buf.String(), "\r\n\r\n")
	if idx == -1 {
		t.Fatal("no header/body separator found")
	}
	body := s.buf.String()[idx+4:]
	if len(body) < 512 {
		t.Fatalf("padded body length = %d, want >= 512", len(body))
	}
}

func TestPipeline_ReturnNoticeSmallBodyUnpaddedBelowThreshold(t *testing.T) {
	p := New(Config{ErrorMinSize: 512}, nil, nil)
	c := &connpool.Conn{}
	s := &fakeSender{}

	if err := p.ReturnNotice(c, s, 0, 200, "OK", "fine"); err != nil {
		t.Fatalf("ReturnNotice: %v", err)
	}
	if strings.Contains(s.buf.String(), "<!--") {
		t.Fatal("a 200 response should never be padded")
	}
}

func TestStatusLine_UnknownCodeFallsBackToUnknownReason(t *testing.T) {
	got := StatusLine("HTTP/1.1", 799)
	if got != "HTTP/1.1 799 Unknown Reason" {
		t.Fatalf("StatusLine = %q", got)
	}
}

func TestPipeline_WriteDataBuffersWithoutStreamFlag(t *testing.T) {
	p := New(Config{}, nil, nil)
	c := &connpool.Conn{}
	s := &fakeSender{}

	if err := p.WriteData(c, s, 0, []byte("chunk"), 0); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	if s.buf.Len() != 0 {
		t.Fatal("non-streamed WriteData must not send immediately")
	}
	if !bytes.Equal(c.Body(), []byte("chunk")) {
		t.Fatalf("Body() = %q, want buffered chunk", c.Body())
	}
}

func TestPipeline_WriteDataStreamsImmediatelyWithFlag(t *testing.T) {
	p := New(Config{ServerSignature: "s"}, nil, nil)
	c := &connpool.Conn{}
	s := &fakeSender{}

	if err := p.WriteData(c, s, 0, []byte("chunk"), FlagStream); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	if !strings.Contains(s.buf.String(), "chunk") {
		t.Fatal("streamed WriteData should send immediately, headers then body")
	}
	if !c.HeadersSent {
		t.Fatal("streaming write must flush headers first")
	}
}
