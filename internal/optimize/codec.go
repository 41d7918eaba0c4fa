package optimize

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var ErrUnknownCodec = errors.New("unknown compression codec")

// Codec streams one compression format.
type Codec interface {
	Name() string
	Extension() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

const DefaultCodec = "lz4"

var codecs = map[string]Codec{
	"lz4":    lz4Codec{},
	"gzip":   gzipCodec{},
	"zstd":   zstdCodec{},
	"snappy": snappyCodec{},
}

func CodecByName(name string) (Codec, error) {
	c, ok := codecs[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// CodecForPath picks the codec from an archive's extension.
func CodecForPath(path string) (Codec, error) {
	for _, c := range codecs {
		if strings.HasSuffix(path, c.Extension()) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, path)
}

func CodecNames() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type lz4Codec struct{}

func (lz4Codec) Name() string      { return "lz4" }
func (lz4Codec) Extension() string { return ".lz4" }

func (lz4Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (lz4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

type gzipCodec struct{}

func (gzipCodec) Name() string      { return "gzip" }
func (gzipCodec) Extension() string { return ".gz" }

func (gzipCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, gzip.BestSpeed)
}

func (gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

type zstdCodec struct{}

func (zstdCodec) Name() string      { return "zstd" }
func (zstdCodec) Extension() string { return ".zst" }

func (zstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}

type snappyCodec struct{}

func (snappyCodec) Name() string      { return "snappy" }
func (snappyCodec) Extension() string { return ".sz" }

func (snappyCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return snappy.NewBufferedWriter(w), nil
}

func (snappyCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(snappy.NewReader(r)), nil
}
