package http

import (
	"bytes"
	"strconv"
)

// DecodeChunk feeds newly-received bytes into req's chunked-transfer
// decode state and appends any fully-decoded chunk payload to
// req.Body. It may be called repeatedly as more data arrives on the
// socket; chunkStartOff/chunkWriteOff (spec.md §4.1) track progress
// across calls so partial chunk headers or bodies spanning reads are
// resumed rather than re-parsed from scratch.
//
// buf is the full accumulated read-ahead buffer for this request's
// chunked section (starting at the first chunk-size line); req's
// offsets index into it. done is true once the terminating
// zero-length chunk and any trailer headers have been consumed.
func DecodeChunk(req *Request, buf []byte, limits Limits) (done bool, err error) {
	if req.chunkDone {
		return true, nil
	}

	for {
		if req.chunkRemain > 0 {
			avail := int64(len(buf) - req.ChunkWriteOff)
			if avail <= 0 {
				return false, nil
			}
			take := req.chunkRemain
			if avail < take {
				take = avail
			}
			req.Body = append(req.Body, buf[req.ChunkWriteOff:req.ChunkWriteOff+int(take)]...)
			req.ChunkWriteOff += int(take)
			req.chunkRemain -= take
			if int64(len(req.Body)) > limits.MaxInput {
				return false, ErrEntityTooLarge
			}
			if req.chunkRemain > 0 {
				return false, nil
			}
			// skip the CRLF that terminates the chunk data
			if req.ChunkWriteOff+2 > len(buf) {
				return false, nil
			}
			req.ChunkWriteOff += 2
			req.ChunkStartOff = req.ChunkWriteOff
			continue
		}

		rest := buf[req.ChunkStartOff:]
		nl := bytes.IndexByte(rest, '\n')
		if nl == -1 {
			if len(rest) > limits.MaxLine {
				return false, ErrLineTooLong
			}
			return false, nil
		}
		line := rest[:nl]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if sc := bytes.IndexByte(line, ';'); sc != -1 {
			line = line[:sc] // chunk-extension, ignored
		}
		size, convErr := strconv.ParseInt(string(bytes.TrimSpace(line)), 16, 64)
		if convErr != nil || size < 0 {
			return false, ErrBadRequest
		}

		req.ChunkStartOff += nl + 1
		req.ChunkWriteOff = req.ChunkStartOff

		if size == 0 {
			return skipTrailer(req, buf, limits)
		}
		req.chunkRemain = size
	}
}

// skipTrailer consumes and discards any trailer header lines that
// follow the terminating zero-length chunk, per the original
// implementation's chunked-trailer handling (SPEC_FULL.md §3): a
// trailer is read and dropped, not treated as an error. Trailer lines
// are scanned one at a time, exactly like the header block, since the
// minimal case (no trailer fields) is a single CRLF immediately after
// the "0" chunk-size line, which is too short to match a doubled
// line-terminator search.
func skipTrailer(req *Request, buf []byte, limits Limits) (bool, error) {
	off := req.ChunkStartOff
	lines := 0
	for {
		rest := buf[off:]
		nl := bytes.IndexByte(rest, '\n')
		if nl == -1 {
			if len(rest) > limits.MaxLine {
				return false, ErrLineTooLong
			}
			return false, nil
		}
		line := rest[:nl]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		off += nl + 1
		if len(line) == 0 {
			req.ChunkStartOff = off
			req.ChunkWriteOff = off
			req.chunkDone = true
			return true, nil
		}
		lines++
		if lines > limits.MaxHeaders {
			return false, ErrHeaderTooLarge
		}
	}
}
