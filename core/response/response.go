// Package response implements the C7 response pipeline: status/header
// construction, the narrow write API handlers call, range handling,
// and streaming-vs-buffered dispatch (including writer handoff via
// core/writer), per spec.md §4.7.
package response

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/naviserver/core/connpool"
	"github.com/searchktools/naviserver/core/cookie"
	nshttp "github.com/searchktools/naviserver/core/http"
	"github.com/searchktools/naviserver/core/writer"
)

// WriteFlags modifies WriteData/WriteChars, per spec.md §4.7.
type WriteFlags uint8

const (
	// FlagStream marks the write as NS_CONN_STREAM: the response
	// stays open for further writes rather than being treated as the
	// final chunk.
	FlagStream WriteFlags = 1 << iota
)

// Config bounds the pipeline's behaviour, per spec.md §6.
type Config struct {
	ServerSignature string // "Server:" header value
	NoticeDetail    bool   // server.noticedetail
	ErrorMinSize    int    // server.errorminsize
}

// Pipeline is the C7 response pipeline, bound to one Writer (C8) for
// large-response offload.
type Pipeline struct {
	cfg Config
	w   *writer.Writer
	log *logrus.Logger
}

// New creates a response Pipeline.
func New(cfg Config, w *writer.Writer, log *logrus.Logger) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{cfg: cfg, w: w, log: log}
}

// SetStatus sets the response status code.
func (p *Pipeline) SetStatus(c *connpool.Conn, code int) { c.Status = code }

// SetHeader appends a header value, preserving any existing entries
// for the same name (e.g. repeated Set-Cookie), matching spec.md
// §4.7's `set_header`.
func (p *Pipeline) SetHeader(c *connpool.Conn, key, value string) {
	c.OutputHeaders.Add(key, cookie.SanitizeHeaderValue(value))
}

// UpdateHeader replaces any existing entries for key with a single
// new value, matching `update_header`.
func (p *Pipeline) UpdateHeader(c *connpool.Conn, key, value string) {
	c.OutputHeaders.Set(key, cookie.SanitizeHeaderValue(value))
}

// CondSetHeader sets key only if absent, matching `cond_set_header`.
func (p *Pipeline) CondSetHeader(c *connpool.Conn, key, value string) {
	c.OutputHeaders.CondSet(key, cookie.SanitizeHeaderValue(value))
}

// SetLength sets the Content-Length the response will declare.
func (p *Pipeline) SetLength(c *connpool.Conn, length int64) {
	c.ResponseLen = length
	c.OutputHeaders.Set("Content-Length", strconv.FormatInt(length, 10))
}

// SetEncodedType sets Content-Type from mime plus an optional charset,
// and records the output encoding on the Conn.
func (p *Pipeline) SetEncodedType(c *connpool.Conn, mime, charset string) {
	ct := mime
	if charset != "" {
		ct = mime + "; charset=" + charset
		c.Encoding = charset
	}
	c.OutputHeaders.Set("Content-Type", ct)
}

// SetCookie synthesises and appends a Set-Cookie header, per spec.md
// §6.
func (p *Pipeline) SetCookie(c *connpool.Conn, name, value string, opts cookie.Options) {
	p.SetHeader(c, "Set-Cookie", cookie.Set(name, value, opts))
}

// WriteData appends buf to the Conn's response, streaming immediately
// through sender if FlagStream is set (flushing the status line and
// headers first if they have not been sent yet), or buffering it for
// a later flush otherwise.
func (p *Pipeline) WriteData(c *connpool.Conn, sender writer.Sender, fd int, buf []byte, flags WriteFlags) error {
	if flags&FlagStream != 0 {
		c.Streaming = true
		if !c.HeadersSent {
			if err := p.flushHeaders(c, sender, fd); err != nil {
				return err
			}
		}
		n, err := sender.SendBufs([][]byte{buf})
		c.BytesSent += n
		return err
	}
	c.AppendBody(buf)
	return nil
}

// WriteChars is WriteData's multi-buffer counterpart.
func (p *Pipeline) WriteChars(c *connpool.Conn, sender writer.Sender, fd int, bufs [][]byte, flags WriteFlags) error {
	for _, b := range bufs {
		if err := p.WriteData(c, sender, fd, b, flags); err != nil {
			return err
		}
	}
	return nil
}

// ReturnData is the single-shot convenience operation: set type,
// length, write, and close, per spec.md §4.7.
func (p *Pipeline) ReturnData(c *connpool.Conn, sender writer.Sender, fd int, status int, data []byte, mime string) error {
	p.SetStatus(c, status)
	p.SetEncodedType(c, mime, "")
	p.SetLength(c, int64(len(data)))
	c.AppendBody(data)
	return p.Close(c, sender, fd)
}

// ReturnNotice renders an HTML notice page, padding the body to
// ErrorMinSize for 4xx/5xx responses to bypass browser friendly-error
// replacement, and appending server detail when NoticeDetail is set,
// per spec.md §4.7/§7.
func (p *Pipeline) ReturnNotice(c *connpool.Conn, sender writer.Sender, fd int, status int, title, body string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p>", title, title, body)
	if p.cfg.NoticeDetail {
		fmt.Fprintf(&b, "<hr><address>%s</address>", p.cfg.ServerSignature)
	}
	b.WriteString("</body></html>")

	html := b.String()
	if status >= 400 && p.cfg.ErrorMinSize > 0 && len(html) < p.cfg.ErrorMinSize {
		pad := p.cfg.ErrorMinSize - len(html) - len("<!---->")
		if pad < 0 {
			pad = 0
		}
		html = "<!--" + strings.Repeat("-", pad) + "-->" + html
	}
	return p.ReturnData(c, sender, fd, status, []byte(html), "text/html")
}

// ReturnOpenFD prefers handing the send off to the writer (C8) when
// the driver supports it and size is large enough; otherwise it
// returns false and the caller must send synchronously.
func (p *Pipeline) ReturnOpenFD(c *connpool.Conn, sender writer.Sender, fd int, status int, mime string, f *os.File, length int64) (handedOff bool, err error) {
	p.SetStatus(c, status)
	p.SetEncodedType(c, mime, "")
	p.SetLength(c, length)
	if err := p.flushHeaders(c, sender, fd); err != nil {
		return false, err
	}
	c.HeadersSent = true

	if p.w == nil {
		return false, nil
	}
	taken := p.w.Queue(fd, sender, length, false, writer.Source{File: f}, func(sent int64, werr error) {
		c.BytesSent += sent
		if werr != nil {
			p.log.WithError(werr).Warn("response: writer offload failed")
		}
		f.Close()
	})
	return taken, nil
}

// ReturnOpenFile opens path and delegates to ReturnOpenFD.
func (p *Pipeline) ReturnOpenFile(c *connpool.Conn, sender writer.Sender, fd int, status int, mime, path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return false, err
	}
	return p.ReturnOpenFD(c, sender, fd, status, mime, f, info.Size())
}

// Close flushes any buffered (non-streaming) body and headers, for
// handlers that never called WriteData with FlagStream.
func (p *Pipeline) Close(c *connpool.Conn, sender writer.Sender, fd int) error {
	if !c.HeadersSent {
		if err := p.flushHeaders(c, sender, fd); err != nil {
			return err
		}
	}
	body := c.Body()
	if len(body) == 0 {
		return nil
	}
	n, err := sender.SendBufs([][]byte{body})
	c.BytesSent += n
	return err
}

// flushHeaders synthesises and sends the status line and headers, per
// spec.md §4.7's header-output contract.
func (p *Pipeline) flushHeaders(c *connpool.Conn, sender writer.Sender, fd int) error {
	var b strings.Builder
	b.WriteString(StatusLine(protocolVersion(c), c.Status))
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Server: %s\r\n", p.cfg.ServerSignature)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(http.TimeFormat))
	if c.KeepAlive {
		b.WriteString("Connection: keep-alive\r\n")
	} else {
		b.WriteString("Connection: close\r\n")
	}

	c.OutputHeaders.Each(func(k, v string) {
		fmt.Fprintf(&b, "%s: %s\r\n", k, cookie.SanitizeHeaderValue(v))
	})
	b.WriteString("\r\n")

	n, err := sender.SendBufs([][]byte{[]byte(b.String())})
	c.BytesSent += n
	c.HeadersSent = true
	return err
}

func protocolVersion(c *connpool.Conn) string {
	if c.Request != nil && c.Request.Proto == "HTTP/1.0" {
		return "HTTP/1.0"
	}
	return "HTTP/1.1"
}

// StatusLine synthesises "HTTP/x.y nnn reason", looking up the reason
// phrase by code and falling back to "Unknown Reason" for an
// unrecognised code, per spec.md §4.7. Version is min(request
// version, 1.1) — protocolVersion already clamps anything above 1.1
// down to 1.1 since no higher version is ever parsed.
func StatusLine(proto string, code int) string {
	reason := http.StatusText(code)
	if reason == "" {
		reason = "Unknown Reason"
	}
	return fmt.Sprintf("%s %d %s", proto, code, reason)
}
