package storage

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// maxLineSize caps a single log line; longer lines fail the read.
const maxLineSize = 1 << 20

// Reader reads archive files line by line. Compressed archives are
// decoded in one piece; DecodeAll is safe for concurrent use, so one
// Reader can serve parallel loads.
type Reader struct {
	decoder *zstd.Decoder
}

func NewReader() (*Reader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Reader{decoder: dec}, nil
}

// Close releases the decoder.
func (r *Reader) Close() {
	r.decoder.Close()
}

// Span returns the time range encoded in an archive's file name.
func (r *Reader) Span(path string) (int64, int64, error) {
	minTs, maxTs, _, err := ParseArchiveName(path)
	return minTs, maxTs, err
}

// List returns the archives found in dir, oldest first.
func (r *Reader) List(dir string) ([]string, error) {
	return ListArchives(dir)
}

// ReadLines calls visit for every line of the file at path. Files named
// *.log.zst are decompressed first; anything else is read as plain text.
// A visit error stops the read and is returned.
func (r *Reader) ReadLines(path string, visit func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var src io.Reader = f
	if _, _, compressed, err := ParseArchiveName(path); err == nil && compressed {
		raw, err := io.ReadAll(f)
		if err != nil {
			return err
		}
		data, err := r.decoder.DecodeAll(raw, nil)
		if err != nil {
			return err
		}
		src = bytes.NewReader(data)
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := visit(scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}
