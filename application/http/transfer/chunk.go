package transfer

import (
	"bytes"
	"strconv"

	"netkit/application/util/rule"

	"github.com/pkg/errors"
)

var (
	ErrMalformedChunkSize = errors.New("chunk size is malformed")
	ErrChunkLineTooLong   = errors.New("chunk size line exceeds limit")
	ErrMissingChunkCRLF   = errors.New("CRLF delimiter not found after chunk data")
)

const DefaultMaxChunkLineLength = 4096

type chunkState uint8

const (
	stateSize chunkState = iota
	stateData
	stateDataCR
	stateDataLF
	stateLast
)

// ChunkDecoder incrementally strips chunked framing.
// It stops right after the last-chunk line, so the trailer section is left to the caller.
type ChunkDecoder struct {
	state     chunkState
	remaining uint64
	line      []byte

	// MaxLineLength limits a chunk size line (extensions included). 0 means unlimited.
	MaxLineLength int
}

func NewChunkDecoder() *ChunkDecoder {
	return &ChunkDecoder{MaxLineLength: DefaultMaxChunkLineLength}
}

func (d *ChunkDecoder) Reset() {
	d.state = stateSize
	d.remaining = 0
	d.line = d.line[:0]
}

// Decode consumes p and calls onData with chunk data as it becomes available.
// It returns the number of consumed bytes. done is true once the last chunk was read,
// in which case p[n:] starts with the trailer section.
func (d *ChunkDecoder) Decode(p []byte, onData func([]byte)) (n int, done bool, err error) {
	for n < len(p) {
		switch d.state {
		case stateSize:
			idx := bytes.IndexByte(p[n:], rule.LF)
			if idx < 0 {
				d.line = append(d.line, p[n:]...)
				n = len(p)
				if d.MaxLineLength > 0 && len(d.line) > d.MaxLineLength {
					return n, false, ErrChunkLineTooLong
				}
				return n, false, nil
			}

			d.line = append(d.line, p[n:n+idx]...)
			n += idx + 1
			if d.MaxLineLength > 0 && len(d.line) > d.MaxLineLength {
				return n, false, ErrChunkLineTooLong
			}

			size, err := ParseChunkSize(bytes.TrimSuffix(d.line, []byte{rule.CR}))
			d.line = d.line[:0]
			if err != nil {
				return n, false, err
			}

			if size == 0 {
				d.state = stateLast
				return n, true, nil
			}
			d.remaining = size
			d.state = stateData
		case stateData:
			avail := uint64(len(p) - n)
			if avail > d.remaining {
				avail = d.remaining
			}
			if avail > 0 && onData != nil {
				onData(p[n : n+int(avail)])
			}
			n += int(avail)
			d.remaining -= avail
			if d.remaining == 0 {
				d.state = stateDataCR
			}
		case stateDataCR:
			switch p[n] {
			case rule.CR:
				d.state = stateDataLF
			case rule.LF:
				d.state = stateSize
			default:
				return n, false, ErrMissingChunkCRLF
			}
			n++
		case stateDataLF:
			if p[n] != rule.LF {
				return n, false, ErrMissingChunkCRLF
			}
			n++
			d.state = stateSize
		case stateLast:
			return n, true, nil
		}
	}

	return n, d.state == stateLast, nil
}

// ParseChunkSize parses a chunk size line without its line terminator.
// Chunk extensions are recognized and discarded.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-7.1.1
func ParseChunkSize(line []byte) (uint64, error) {
	sizeRaw, _, _ := bytes.Cut(line, []byte{';'})
	// BWS is allowed before the extension delimiter.
	sizeRaw = bytes.TrimRight(sizeRaw, string(rule.OWS))
	if len(sizeRaw) == 0 {
		return 0, errors.Wrapf(ErrMalformedChunkSize, "empty chunk size: %q", line)
	}
	for _, c := range sizeRaw {
		if !rule.IsHex(c) {
			return 0, errors.Wrapf(ErrMalformedChunkSize, "not a hex digit: %q", line)
		}
	}

	size, err := strconv.ParseUint(string(sizeRaw), 16, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedChunkSize, "chunk size larger than 64bit: %q", line)
	}

	return size, nil
}

// AppendChunk appends p framed as a single chunk. Empty p is ignored since it would mean the last chunk.
func AppendChunk(dst, p []byte) []byte {
	if len(p) == 0 {
		return dst
	}
	dst = strconv.AppendUint(dst, uint64(len(p)), 16)
	dst = append(dst, rule.CRLF...)
	dst = append(dst, p...)
	return append(dst, rule.CRLF...)
}

// AppendLastChunk appends the last-chunk line. The trailer section and the final CRLF are the caller's.
func AppendLastChunk(dst []byte) []byte {
	return append(dst, '0', rule.CR, rule.LF)
}
