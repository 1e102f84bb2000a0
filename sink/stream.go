package sink

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/jbrzusto/digdar"
	"github.com/jbrzusto/digdar/buffer"
)

// DefaultBaud is the serial line rate used when a serial target does
// not give one.
const DefaultBaud = 115200

// Stream writes pulse records, byte for byte as they sit in the ring,
// to a writer.
type Stream struct {
	w      io.Writer
	closer io.Closer // nil for stdout
	name   string
	logger *zap.Logger
	buf    []byte
}

// NewStream returns a stream sink writing to w.  If w is also an
// io.Closer, Close closes it.
func NewStream(w io.Writer, name string, logger *zap.Logger) *Stream {
	s := &Stream{w: w, name: name, logger: logger}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenStream opens a stream target:
//
//	"" or "-"                      stdout
//	"tcp://host:port", "host:port" a TCP connection
//	"serial:///dev/ttyPS1?baud=N"  a serial port
func OpenStream(target string, logger *zap.Logger) (*Stream, error) {
	if target == "" || target == "-" {
		s := &Stream{w: os.Stdout, name: "stdout", logger: logger}
		logger.Info("[sink] writing to stdout")
		return s, nil
	}

	addr := target
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("stream target %q: %w", target, digdar.ErrConfiguration)
		}
		switch u.Scheme {
		case "tcp":
			addr = u.Host
		case "serial":
			return openSerial(u, logger)
		default:
			return nil, fmt.Errorf("stream target %q: unknown scheme %q: %w", target, u.Scheme, digdar.ErrConfiguration)
		}
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("stream target %q: %w: %w", target, digdar.ErrSinkWrite, err)
	}
	logger.Info("[sink] connected", zap.String("addr", conn.RemoteAddr().String()))
	return NewStream(conn, "tcp:"+addr, logger), nil
}

func openSerial(u *url.URL, logger *zap.Logger) (*Stream, error) {
	baud := DefaultBaud
	if b := u.Query().Get("baud"); b != "" {
		n, err := strconv.Atoi(b)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("serial baud rate %q: %w", b, digdar.ErrConfiguration)
		}
		baud = n
	}
	port, err := serial.Open(u.Path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("serial port %s: %w: %w", u.Path, digdar.ErrSinkWrite, err)
	}
	logger.Info("[sink] opened serial port", zap.String("port", u.Path), zap.Int("baud", baud))
	return NewStream(port, "serial:"+u.Path, logger), nil
}

// WriteChunk writes the records of slots as one payload.
func (s *Stream) WriteChunk(slots []buffer.Slot) error {
	s.buf = s.buf[:0]
	for _, sl := range slots {
		s.buf = append(s.buf, sl...)
	}
	if err := writeFull(s.w, s.buf); err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return nil
}

// writeFull writes all of b, retrying short writes.  A write that
// fails, or makes no progress, is an ErrSinkWrite.
func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return fmt.Errorf("%w: %w", digdar.ErrSinkWrite, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %w", digdar.ErrSinkWrite, io.ErrShortWrite)
		}
		b = b[n:]
	}
	return nil
}

// Close closes the underlying connection or port, if any.
func (s *Stream) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
