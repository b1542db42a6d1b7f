package checkpoint

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression applied after the preamble.
type Codec uint8

const (
	// Zstd gives the smaller file.
	Zstd Codec = iota + 1
	// LZ4 is faster to write, for frequent checkpoints of large backbones.
	LZ4
)

// ParseCodec maps a codec name ("zstd" or "lz4") to its Codec.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return 0, fmt.Errorf("unknown checkpoint codec %q", name)
	}
}

func (c Codec) String() string {
	switch c {
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

func (c Codec) newWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case LZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint codec %v", c)
	}
}

type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

func (c Codec) newReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zstdReadCloser{zr}, nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint codec %v", c)
	}
}
