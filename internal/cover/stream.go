package cover

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
)

// BytesStream is an in-memory Stream, mainly for adapters that already
// hold the thumbnail bytes and for tests.
type BytesStream struct {
	reader      *bytes.Reader
	size        int64
	contentType string
	readable    bool
}

// NewBytesStream wraps data as a readable Stream.
func NewBytesStream(data []byte, contentType string) *BytesStream {
	return &BytesStream{
		reader:      bytes.NewReader(data),
		size:        int64(len(data)),
		contentType: contentType,
		readable:    true,
	}
}

// NewTruncatedStream wraps data but declares a larger size than is
// available, simulating a short native stream. Test helper.
func NewTruncatedStream(data []byte, declaredSize int64) *BytesStream {
	s := NewBytesStream(data, "application/octet-stream")
	s.size = declaredSize
	return s
}

// NewUnreadableStream returns a Stream that reports CanRead false.
func NewUnreadableStream() *BytesStream {
	return &BytesStream{readable: false}
}

func (s *BytesStream) CanRead() bool       { return s.readable }
func (s *BytesStream) Size() int64         { return s.size }
func (s *BytesStream) ContentType() string { return s.contentType }

func (s *BytesStream) Read(p []byte) (int, error) {
	if !s.readable {
		return 0, ErrNotReadable
	}
	return s.reader.Read(p)
}

// fileStream exposes a local file as a Stream.
type fileStream struct {
	f           *os.File
	size        int64
	contentType string
}

// OpenFile opens a local image file as a readable Stream. The caller is
// expected to drain it via Decode; the underlying file closes on EOF.
func OpenFile(path string) (Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cover: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("cover: stat %s: %w", path, err)
	}
	return &fileStream{
		f:           f,
		size:        info.Size(),
		contentType: mime.TypeByExtension(filepath.Ext(path)),
	}, nil
}

func (s *fileStream) CanRead() bool       { return true }
func (s *fileStream) Size() int64         { return s.size }
func (s *fileStream) ContentType() string { return s.contentType }

func (s *fileStream) Read(p []byte) (int, error) {
	n, err := s.f.Read(p)
	if err == io.EOF {
		s.f.Close()
	}
	return n, err
}
