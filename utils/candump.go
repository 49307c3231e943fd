package utils

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.einride.tech/can"
)

// ErrMalformedLine is wrapped by ParseDumpLine for any line it cannot read.
var ErrMalformedLine = errors.New("candump: malformed line")

// ParseDumpLine parses one line of candump(1) output. Two forms are accepted:
//
//	can0  200   [8]  08 00 00 00 01 00 01 29
//	can0  200#0800000001000129
//
// Identifiers are hexadecimal; more than three hex digits marks an extended id.
func ParseDumpLine(line string) (can.Frame, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return can.Frame{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	if strings.Contains(fields[1], "#") {
		return parseCompact(fields[1])
	}
	if len(fields) < 3 {
		return can.Frame{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}

	id, ext, err := parseDumpID(fields[1])
	if err != nil {
		return can.Frame{}, err
	}

	lenField := strings.TrimSuffix(strings.TrimPrefix(fields[2], "["), "]")
	n, err := strconv.Atoi(lenField)
	if err != nil || n < 0 || n > 8 {
		return can.Frame{}, fmt.Errorf("%w: bad length %q", ErrMalformedLine, fields[2])
	}
	data := fields[3:]
	if len(data) < n {
		return can.Frame{}, fmt.Errorf("%w: want %d data bytes, got %d", ErrMalformedLine, n, len(data))
	}

	f := can.Frame{ID: id, IsExtended: ext, Length: uint8(n)}
	for i := 0; i < n; i++ {
		b, err := strconv.ParseUint(data[i], 16, 8)
		if err != nil {
			return can.Frame{}, fmt.Errorf("%w: bad byte %q", ErrMalformedLine, data[i])
		}
		f.Data[i] = byte(b)
	}
	return f, nil
}

func parseCompact(s string) (can.Frame, error) {
	idStr, dataStr, _ := strings.Cut(s, "#")
	id, ext, err := parseDumpID(idStr)
	if err != nil {
		return can.Frame{}, err
	}
	f := can.Frame{ID: id, IsExtended: ext}
	if strings.HasPrefix(dataStr, "R") {
		f.IsRemote = true
		return f, nil
	}
	dataStr = strings.ReplaceAll(dataStr, ".", "")
	if len(dataStr)%2 != 0 || len(dataStr) > 16 {
		return can.Frame{}, fmt.Errorf("%w: bad payload %q", ErrMalformedLine, dataStr)
	}
	for i := 0; i < len(dataStr)/2; i++ {
		b, err := strconv.ParseUint(dataStr[2*i:2*i+2], 16, 8)
		if err != nil {
			return can.Frame{}, fmt.Errorf("%w: bad payload %q", ErrMalformedLine, dataStr)
		}
		f.Data[i] = byte(b)
	}
	f.Length = uint8(len(dataStr) / 2)
	return f, nil
}

func parseDumpID(s string) (uint32, bool, error) {
	u, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false, fmt.Errorf("%w: bad id %q", ErrMalformedLine, s)
	}
	ext := len(s) > 3
	if (!ext && u > 0x7FF) || u > 0x1FFFFFFF {
		return 0, false, fmt.Errorf("%w: id %q out of range", ErrMalformedLine, s)
	}
	return uint32(u), ext, nil
}

// FormatSendLine renders a frame in cansend(1) syntax, e.g. "200#0800B4009CFF0129".
func FormatSendLine(f can.Frame) string {
	var b strings.Builder
	if f.IsExtended {
		fmt.Fprintf(&b, "%08X#", f.ID&0x1FFFFFFF)
	} else {
		fmt.Fprintf(&b, "%03X#", f.ID&0x7FF)
	}
	if f.IsRemote {
		b.WriteByte('R')
		return b.String()
	}
	for i := uint8(0); i < f.Length && i < 8; i++ {
		fmt.Fprintf(&b, "%02X", f.Data[i])
	}
	return b.String()
}

// maxDumpLine bounds a single input line. candump lines are well under it;
// anything longer is bus noise and is dropped.
const maxDumpLine = 256

// ErrLineTooLong reports an input line longer than maxDumpLine.
var ErrLineTooLong = fmt.Errorf("%w: line too long", ErrMalformedLine)

type dumpLine struct {
	text string
	err  error
}

func (l dumpLine) parse() (can.Frame, error) {
	if l.err != nil {
		return can.Frame{}, l.err
	}
	return ParseDumpLine(l.text)
}

// DumpReader turns a stream of candump lines into frames. Lines that do not
// parse are skipped; OnSkip, if set, sees each one.
type DumpReader struct {
	OnSkip func(line string, err error)

	lines chan dumpLine
	done  chan struct{}
	once  sync.Once

	mu  sync.Mutex
	err error
}

// NewDumpReader starts a goroutine reading r line by line until EOF or Close.
func NewDumpReader(r io.Reader) *DumpReader {
	d := &DumpReader{
		lines: make(chan dumpLine, 64),
		done:  make(chan struct{}),
	}
	go d.pump(r)
	return d
}

func (d *DumpReader) pump(r io.Reader) {
	defer close(d.lines)
	br := bufio.NewReaderSize(r, maxDumpLine)
	for {
		raw, err := br.ReadSlice('\n')
		item := dumpLine{text: strings.TrimRight(string(raw), "\r\n")}
		if errors.Is(err, bufio.ErrBufferFull) {
			item = dumpLine{text: string(raw[:16]) + "...", err: ErrLineTooLong}
			err = discardLine(br)
		}
		if len(raw) > 0 {
			select {
			case d.lines <- item:
			case <-d.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.mu.Lock()
				d.err = err
				d.mu.Unlock()
			}
			return
		}
	}
}

// discardLine consumes input up to and including the next newline.
func discardLine(br *bufio.Reader) error {
	for {
		if _, err := br.ReadSlice('\n'); !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

// ReadFrame returns the next well-formed frame. At end of stream it returns
// io.EOF, or the underlying read error if there was one.
func (d *DumpReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return can.Frame{}, ctx.Err()
		case item, ok := <-d.lines:
			if !ok {
				d.mu.Lock()
				err := d.err
				d.mu.Unlock()
				if err != nil {
					return can.Frame{}, err
				}
				return can.Frame{}, io.EOF
			}
			if item.err == nil && strings.TrimSpace(item.text) == "" {
				continue
			}
			f, err := item.parse()
			if err != nil {
				if d.OnSkip != nil {
					d.OnSkip(item.text, err)
				}
				continue
			}
			return f, nil
		}
	}
}

// Close stops the pump. It does not close the underlying reader.
func (d *DumpReader) Close() error {
	d.once.Do(func() { close(d.done) })
	return nil
}
