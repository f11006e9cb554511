package redipubsub

import (
	"bufio"
	"fmt"
	"strconv"
)

// parseInt assumes a valid decimal string — no validation. The empty
// string returns zero. Used for RESP integer replies and length
// prefixes.
func parseInt(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	u := uint64(b[0])
	neg := false
	if u == '-' {
		neg = true
		u = 0
	} else {
		u -= '0'
	}
	for i := 1; i < len(b); i++ {
		u = u*10 + uint64(b[i]-'0')
	}
	v := int64(u)
	if neg {
		v = -v
	}
	return v
}

// readLine reads one CRLF-terminated line, returning it without the
// trailing CRLF. The slice is only valid until the next read on r.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			err = fmt.Errorf("%w; line exceeds %d bytes", errProtocol, r.Size())
		}
		return nil, err
	}
	end := len(line) - 2
	if end < 0 || line[end] != '\r' {
		return nil, fmt.Errorf("%w; malformed line %q", errProtocol, line)
	}
	return line[:end], nil
}

// readFrameElement reads one array element of a push frame: either a
// bulk string ('$') or an integer reply (':'), the two shapes Redis
// actually sends inside (p)(un)subscribe/message arrays. Both are
// returned as raw bytes so the caller can route on content.
func readFrameElement(r *bufio.Reader) ([]byte, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, fmt.Errorf("%w; empty element header", errProtocol)
	}
	switch line[0] {
	case ':':
		return append([]byte(nil), line[1:]...), nil
	case '$':
		size := parseInt(line[1:])
		if size < 0 {
			return nil, nil // null bulk string
		}
		buf := make([]byte, size)
		if size > 0 {
			if _, err := readFull(r, buf); err != nil {
				return nil, err
			}
		}
		if _, err := r.Discard(2); err != nil { // trailing CRLF
			return nil, err
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("%w; unexpected element type %q", errProtocol, line[0])
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	done := 0
	var err error
	for done < len(buf) && err == nil {
		var n int
		n, err = r.Read(buf[done:])
		done += n
	}
	return done, err
}

// frameKind exhaustively enumerates the six push frame shapes Redis
// sends on a Pub/Sub connection. Any other first element is a
// protocol error.
type frameKind byte

const (
	frameSubscribe frameKind = iota
	framePSubscribe
	frameUnsubscribe
	framePUnsubscribe
	frameMessage
	framePMessage
)

// pushFrame is one parsed server push.
type pushFrame struct {
	kind    frameKind
	channel string
	pattern string
	count   int64
	payload []byte
}

// decodeFrame reads and parses one push frame from r. r's
// *bufio.Reader is kept for the lifetime of the connection and simply
// resumes wherever the last decode left off.
func decodeFrame(r *bufio.Reader) (pushFrame, error) {
	line, err := readLine(r)
	if err != nil {
		return pushFrame{}, err
	}
	if len(line) > 0 && line[0] == '-' {
		return pushFrame{}, ServerError(line[1:])
	}
	if len(line) == 0 || line[0] != '*' {
		return pushFrame{}, fmt.Errorf("%w; want an array, got %q", errProtocol, line)
	}
	n := parseInt(line[1:])
	if n < 2 {
		return pushFrame{}, fmt.Errorf("%w; push frame with %d elements", errProtocol, n)
	}
	elems := make([][]byte, n)
	for i := range elems {
		elems[i], err = readFrameElement(r)
		if err != nil {
			return pushFrame{}, err
		}
	}

	switch string(elems[0]) {
	case "subscribe":
		return pushFrame{kind: frameSubscribe, channel: string(elems[1]), count: countOf(elems)}, nil
	case "psubscribe":
		return pushFrame{kind: framePSubscribe, pattern: string(elems[1]), count: countOf(elems)}, nil
	case "unsubscribe":
		return pushFrame{kind: frameUnsubscribe, channel: string(elems[1]), count: countOf(elems)}, nil
	case "punsubscribe":
		return pushFrame{kind: framePUnsubscribe, pattern: string(elems[1]), count: countOf(elems)}, nil
	case "message":
		if len(elems) < 3 {
			return pushFrame{}, fmt.Errorf("%w; message frame with %d elements", errProtocol, len(elems))
		}
		return pushFrame{kind: frameMessage, channel: string(elems[1]), payload: elems[2]}, nil
	case "pmessage":
		if len(elems) < 4 {
			return pushFrame{}, fmt.Errorf("%w; pmessage frame with %d elements", errProtocol, len(elems))
		}
		return pushFrame{kind: framePMessage, pattern: string(elems[1]), channel: string(elems[2]), payload: elems[3]}, nil
	default:
		return pushFrame{}, fmt.Errorf("%w; unknown push frame %q", errProtocol, elems[0])
	}
}

func countOf(elems [][]byte) int64 {
	if len(elems) < 3 {
		return 0
	}
	return parseInt(elems[2])
}

// cmdBuilder assembles one or two RESP array commands into a single
// buffer for one transport write: when both channel and pattern lists
// are non-empty they go out as two separate array commands back to
// back in the same write.
type cmdBuilder struct {
	buf []byte
}

func newCmdBuilder() *cmdBuilder {
	return &cmdBuilder{buf: make([]byte, 0, 128)}
}

func (b *cmdBuilder) bulk(s string) {
	b.buf = append(b.buf, '$')
	b.buf = strconv.AppendUint(b.buf, uint64(len(s)), 10)
	b.buf = append(b.buf, '\r', '\n')
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, '\r', '\n')
}

// command appends one complete RESP array command: name followed by
// args, e.g. command("SUBSCRIBE", "a", "b").
func (b *cmdBuilder) command(name string, args ...string) {
	b.buf = append(b.buf, '*')
	b.buf = strconv.AppendUint(b.buf, uint64(1+len(args)), 10)
	b.buf = append(b.buf, '\r', '\n')
	b.bulk(name)
	for _, a := range args {
		b.bulk(a)
	}
}

// buildSubscribeCmd builds the wire payload for a (re)subscribe
// request: a SUBSCRIBE array for channels (if any) followed by a
// PSUBSCRIBE array for patterns (if any), back to back in one buffer.
// Empty lists emit nothing for that half.
func buildSubscribeCmd(channels, patterns []string) []byte {
	b := newCmdBuilder()
	if len(channels) > 0 {
		b.command("SUBSCRIBE", channels...)
	}
	if len(patterns) > 0 {
		b.command("PSUBSCRIBE", patterns...)
	}
	return b.buf
}

// buildUnsubscribeCmd is the UNSUBSCRIBE/PUNSUBSCRIBE analogue of
// buildSubscribeCmd.
func buildUnsubscribeCmd(channels, patterns []string) []byte {
	b := newCmdBuilder()
	if len(channels) > 0 {
		b.command("UNSUBSCRIBE", channels...)
	}
	if len(patterns) > 0 {
		b.command("PUNSUBSCRIBE", patterns...)
	}
	return b.buf
}
