// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

package kimage

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// compressor describes a compression format a raw kernel image may use.
// A nil open func means the format is recognized but not supported.
type compressor struct {
	magic []byte
	name  string
	open  func(io.Reader) (io.Reader, func(), error)
}

var compressors = []compressor{
	{
		magic: []byte{0x1f, 0x8b, 0x08},
		name:  "gzip",
		open: func(r io.Reader) (io.Reader, func(), error) {
			zr, err := gzip.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			// trailing garbage after the compressed stream is normal
			// in kernel images
			zr.Multistream(false)
			return zr, func() { zr.Close() }, nil
		},
	},
	{
		magic: []byte{0x42, 0x5a, 0x68},
		name:  "bzip2",
		open: func(r io.Reader) (io.Reader, func(), error) {
			return bzip2.NewReader(r), func() {}, nil
		},
	},
	{
		magic: []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00},
		name:  "xz",
		open: func(r io.Reader) (io.Reader, func(), error) {
			xr, err := xz.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return xr, func() {}, nil
		},
	},
	{
		magic: []byte{0x5d, 0x00, 0x00},
		name:  "lzma",
		open: func(r io.Reader) (io.Reader, func(), error) {
			lr, err := lzma.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return lr, func() {}, nil
		},
	},
	{
		magic: []byte{0x04, 0x22, 0x4d, 0x18},
		name:  "lz4",
		open: func(r io.Reader) (io.Reader, func(), error) {
			return lz4.NewReader(r), func() {}, nil
		},
	},
	{
		magic: []byte{0x28, 0xb5, 0x2f, 0xfd},
		name:  "zstd",
		open: func(r io.Reader) (io.Reader, func(), error) {
			zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
			if err != nil {
				return nil, nil, err
			}
			return zr.IOReadCloser(), func() { zr.Close() }, nil
		},
	},
	{
		// lzop container; there is no maintained streaming Go
		// decompressor for it
		magic: []byte{0x89, 0x4c, 0x5a, 0x4f, 0x00, 0x0d, 0x0a, 0x1a, 0x0a},
		name:  "lzo",
		open:  nil,
	},
}

func maxMagicLen() int {
	max := 0
	for _, c := range compressors {
		if len(c.magic) > max {
			max = len(c.magic)
		}
	}
	return max
}

// openRaw sniffs the compression format at the current position of f and
// returns a reader over the decompressed payload. For uncompressed data it
// returns f itself. size limits how many bytes of f are consumed; a
// negative size means "until EOF".
func openRaw(path string, f io.ReadSeeker, size int64) (io.Reader, func(), error) {
	maxlen := maxMagicLen()
	if size >= 0 && size < int64(maxlen) {
		return io.LimitReader(f, size), func() {}, nil
	}

	start, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, nil, err
	}
	header := make([]byte, maxlen)
	n, _ := io.ReadFull(f, header)
	header = header[:n]
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, nil, err
	}

	var payload io.Reader = f
	if size >= 0 {
		payload = io.LimitReader(f, size)
	}

	for _, c := range compressors {
		if !bytes.HasPrefix(header, c.magic) {
			continue
		}
		if c.open == nil {
			return nil, nil, &MissingDecompressorError{Path: path, Format: c.name}
		}
		return c.open(payload)
	}
	return payload, func() {}, nil
}
