package storage

import (
	"bufio"
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/coffersTech/livequery/internal/engine"
	"github.com/klauspost/compress/zstd"
)

// ErrNoLines is returned when there is nothing to archive.
var ErrNoLines = errors.New("no lines to archive")

type Writer struct {
	encoder *zstd.Encoder
}

func NewWriter() (*Writer, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &Writer{encoder: enc}, nil
}

// Close releases the encoder.
func (w *Writer) Close() error {
	return w.encoder.Close()
}

// WriteArchive stores lines in dir under a name derived from the time
// range they cover and returns the path. The file is written under a
// temporary name and then linked into place, so readers never see a
// partial archive and an existing archive is never replaced.
func (w *Writer) WriteArchive(dir string, lines []string, compressed bool) (string, error) {
	if len(lines) == 0 {
		return "", ErrNoLines
	}
	minTs, maxTs := timeRange(lines)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	data := buf.Bytes()
	if compressed {
		data = w.encoder.EncodeAll(data, make([]byte, 0, len(data)/4))
	}

	tmp, err := os.CreateTemp(dir, archivePrefix+"*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return "", err
	}

	for seq := 0; ; seq++ {
		path := filepath.Join(dir, ArchiveName(minTs, maxTs, seq, compressed))
		err := os.Link(tmp.Name(), path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
}

// Compress turns the plain log file src into a compressed archive in dir.
func (w *Writer) Compress(src, dir string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return w.WriteArchive(dir, lines, true)
}

// timeRange returns the range of the line timestamps. Lines without one
// are read back with time 0, so they widen the range down to 0.
func timeRange(lines []string) (minTs, maxTs int64) {
	first := true
	for _, line := range lines {
		ts, _ := engine.LineTime(line)
		if first || ts < minTs {
			minTs = ts
		}
		if first || ts > maxTs {
			maxTs = ts
		}
		first = false
	}
	return minTs, maxTs
}
