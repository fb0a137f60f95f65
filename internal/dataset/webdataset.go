package dataset

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sample represents a paired record from a WebDataset shard.
type Sample struct {
	Key   string
	Image []byte
	Label int
}

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// shardReader pairs image and label members of consecutive shards, one
// sample at a time.
type shardReader struct {
	shards     []string
	pendingCap int

	next    int
	f       *os.File
	tr      *tar.Reader
	pending map[string]*partial
}

func newShardReader(shards []string, pendingCap int) *shardReader {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	return &shardReader{shards: shards, pendingCap: pendingCap}
}

// Read returns the next complete sample or io.EOF after the last shard.
func (r *shardReader) Read() (Sample, error) {
	for {
		if r.tr == nil {
			if r.next >= len(r.shards) {
				return Sample{}, io.EOF
			}
			if err := r.open(r.shards[r.next]); err != nil {
				return Sample{}, err
			}
			r.next++
		}

		hdr, err := r.tr.Next()
		if errors.Is(err, io.EOF) {
			path := r.f.Name()
			incomplete := len(r.pending)
			r.Close()
			if incomplete > 0 {
				return Sample{}, fmt.Errorf("shard %s: %d samples incomplete", path, incomplete)
			}
			continue
		}
		if err != nil {
			return Sample{}, fmt.Errorf("read tar %s: %w", r.f.Name(), err)
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(hdr.Name)
		ext := strings.ToLower(filepath.Ext(name))
		key := strings.TrimSuffix(name, ext)

		switch ext {
		case ".jpg", ".jpeg", ".png":
			data, err := io.ReadAll(r.tr)
			if err != nil {
				return Sample{}, fmt.Errorf("read image %s: %w", name, err)
			}
			r.partial(key).image = data
		case ".cls":
			payload, err := io.ReadAll(r.tr)
			if err != nil {
				return Sample{}, fmt.Errorf("read label %s: %w", name, err)
			}
			label, err := strconv.Atoi(strings.TrimSpace(string(payload)))
			if err != nil {
				return Sample{}, fmt.Errorf("parse label %s: %w", name, err)
			}
			r.partial(key).label = &label
		default:
			continue
		}

		if len(r.pending) > r.pendingCap {
			return Sample{}, ErrPendingOverflow
		}
		if part := r.pending[key]; part.ready() {
			delete(r.pending, key)
			return Sample{Key: key, Image: part.image, Label: *part.label}, nil
		}
	}
}

func (r *shardReader) open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open shard: %w", err)
	}
	r.f = f
	r.tr = tar.NewReader(bufio.NewReader(f))
	r.pending = make(map[string]*partial)
	return nil
}

func (r *shardReader) partial(key string) *partial {
	part := r.pending[key]
	if part == nil {
		part = &partial{}
		r.pending[key] = part
	}
	return part
}

// Close releases the open shard, if any.
func (r *shardReader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	r.tr = nil
	r.pending = nil
	return err
}

type partial struct {
	image []byte
	label *int
}

func (p *partial) ready() bool {
	return len(p.image) > 0 && p.label != nil
}
