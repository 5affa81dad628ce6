// This file is part of kernelclean
// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: GPL-3.0-only

// Package kimage extracts the embedded version string from Linux kernel
// image files.
//
// Filenames are not trustworthy: distributions use vmlinuz-, kernel-,
// bzImage- and UKI naming, and renamed ".old" images keep their original
// internal version. Only the version decoded from the image itself can be
// used to correlate a kernel image with its module directory. Supported
// formats are EFI/PE stubs (including ukify .uname sections, embedded
// .linux images and zboot wrapping), x86 bzImage boot headers, and raw
// images in common compression formats.
package kimage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const versionWindow = 0x100

var linuxVersionMarker = []byte("Linux version ")

// probe inspects f, positioned at the start of a candidate image, and
// returns the version buffer if the format matched. A nil buffer with a
// nil error means "not this format, try the next one". Probes restore the
// stream position they were entered with.
type probe func(path string, f io.ReadSeeker) ([]byte, error)

// ReadInternalVersion reads the version string embedded in the kernel
// image open at f. The probes are tried in order, first success wins.
func ReadInternalVersion(path string, f io.ReadSeeker) (string, error) {
	var verbuf []byte
	for _, p := range []probe{
		readVersionFromEFI,
		readVersionFromBzImage,
		readVersionFromRawStart,
	} {
		buf, err := p(path, f)
		if err != nil {
			return "", err
		}
		if buf != nil {
			verbuf = buf
			break
		}
	}
	if verbuf == nil {
		return "", &UnrecognizedKernelError{
			Path: path,
			Msg: "not recognized as any special format and unable " +
				"to find version string in it",
		}
	}

	idx := bytes.IndexByte(verbuf, ' ')
	if idx < 0 {
		return "", &UnrecognizedKernelError{
			Path: path,
			Msg:  "terminates before end of version string",
		}
	}
	return string(verbuf[:idx]), nil
}

// readVersionFromBzImage reads the version from the x86 bzImage boot
// header, if the file is in that format.
func readVersionFromBzImage(path string, f io.ReadSeeker) ([]byte, error) {
	start, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	buf, err := func() ([]byte, error) {
		if _, err := f.Seek(0x200, io.SeekCurrent); err != nil {
			return nil, err
		}
		hdr := make([]byte, 0x10)
		if n, _ := io.ReadFull(f, hdr); n != 0x10 {
			return nil, nil
		}
		if !bytes.Equal(hdr[2:6], []byte("HdrS")) {
			return nil, nil
		}

		offset := binary.LittleEndian.Uint16(hdr[0x0e:])
		if _, err := f.Seek(int64(offset)-0x10, io.SeekCurrent); err != nil {
			return nil, err
		}
		ver := make([]byte, versionWindow)
		n, _ := io.ReadFull(f, ver)
		if n == 0 {
			return nil, &UnrecognizedKernelError{
				Path: path,
				Msg:  "terminates before expected version string position",
			}
		}
		return ver[:n], nil
	}()
	if _, serr := f.Seek(start, io.SeekStart); serr != nil && err == nil {
		return nil, serr
	}
	return buf, err
}

// readVersionFromRawStart probes an unwrapped, possibly compressed image
// starting at the current position.
func readVersionFromRawStart(path string, f io.ReadSeeker) ([]byte, error) {
	return readVersionFromRaw(path, f, -1)
}

// readVersionFromRaw decompresses the image if needed and scans it for the
// "Linux version " boot message. Unlike bzImage there is no header
// pointing at the version, so the banner is the only reliable marker.
func readVersionFromRaw(path string, f io.ReadSeeker, size int64) ([]byte, error) {
	r, closeFn, err := openRaw(path, f, size)
	if err != nil {
		var missing *MissingDecompressorError
		if errors.As(err, &missing) {
			return nil, err
		}
		// corrupt compressed data; not a kernel image we understand
		return nil, nil
	}
	defer closeFn()

	sbuf, err := scanForMarker(r, linuxVersionMarker, versionWindow)
	if err != nil || sbuf == nil {
		return nil, nil
	}
	// discard the candidate if it starts with non-printable bytes
	for _, b := range sbuf[:min(4, len(sbuf))] {
		if b < 40 || b > 176 {
			return nil, nil
		}
	}
	return sbuf, nil
}

// scanForMarker streams r in bounded chunks looking for marker, and
// returns up to window bytes following the first occurrence. It never
// materializes the whole stream.
func scanForMarker(r io.Reader, marker []byte, window int) ([]byte, error) {
	const chunkSize = 64 * 1024
	chunk := make([]byte, chunkSize)
	var data []byte
	for {
		n, rerr := r.Read(chunk)
		data = append(data, chunk[:n]...)

		if pos := bytes.Index(data, marker); pos >= 0 {
			rest := data[pos+len(marker):]
			for len(rest) < window && rerr == nil {
				n, rerr = r.Read(chunk)
				rest = append(rest, chunk[:n]...)
			}
			if len(rest) > window {
				rest = rest[:window]
			}
			return rest, nil
		}

		if rerr != nil {
			if rerr == io.EOF {
				return nil, nil
			}
			return nil, rerr
		}
		// keep only enough overlap for a marker split across reads
		if keep := len(marker) - 1; len(data) > keep {
			data = append(data[:0:0], data[len(data)-keep:]...)
		}
	}
}

// readVersionFromEFI reads the version from a PE/EFI executable: either
// the ukify .uname section, an embedded .linux image, or a zboot payload.
func readVersionFromEFI(path string, f io.ReadSeeker) ([]byte, error) {
	initial, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	hdr := make([]byte, 0x40)
	if n, _ := io.ReadFull(f, hdr); n != 0x40 || !bytes.Equal(hdr[:2], []byte("MZ")) {
		_, serr := f.Seek(initial, io.SeekStart)
		return nil, serr
	}

	// EFI zboot wrapping, see the kernel's
	// drivers/firmware/efi/libstub/zboot-header.S
	if bytes.Equal(hdr[4:8], []byte("zimg")) {
		offset := binary.LittleEndian.Uint32(hdr[8:])
		size := binary.LittleEndian.Uint32(hdr[12:])
		buf, err := func() ([]byte, error) {
			if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
				return nil, err
			}
			return readVersionFromRaw(path, f, int64(size))
		}()
		// leave the stream where we found it so later probes start fresh
		if _, serr := f.Seek(initial, io.SeekStart); serr != nil && err == nil {
			return nil, serr
		}
		return buf, err
	}

	coffOffset := binary.LittleEndian.Uint32(hdr[0x3c:])
	if _, err := f.Seek(initial+int64(coffOffset), io.SeekStart); err != nil {
		return nil, err
	}
	coff := make([]byte, 24)
	if n, _ := io.ReadFull(f, coff); n != 24 || !bytes.Equal(coff[:4], []byte("PE\x00\x00")) {
		_, serr := f.Seek(initial, io.SeekStart)
		return nil, serr
	}
	numSections := binary.LittleEndian.Uint16(coff[6:])
	optHeaderSize := binary.LittleEndian.Uint16(coff[20:])

	// the optional header follows the mandatory one, the section table
	// comes after it in 40-byte rows
	if _, err := f.Seek(int64(optHeaderSize), io.SeekCurrent); err != nil {
		return nil, err
	}
	row := make([]byte, 40)
	for i := 0; i < int(numSections); i++ {
		if n, _ := io.ReadFull(f, row); n != 40 {
			return nil, &UnrecognizedKernelError{
				Path: path,
				Msg:  "EOF in PE section table",
			}
		}
		size := binary.LittleEndian.Uint32(row[8:])
		offset := binary.LittleEndian.Uint32(row[20:])

		switch {
		case bytes.Equal(row[:8], []byte(".uname\x00\x00")):
			// ukify stores `uname -r` output here; the appended
			// marker both notes the provenance and terminates the
			// version token
			if _, err := f.Seek(initial+int64(offset), io.SeekStart); err != nil {
				return nil, err
			}
			ver := make([]byte, size)
			n, _ := io.ReadFull(f, ver)
			return append(ver[:n], []byte(" (ukify)")...), nil
		case bytes.Equal(row[:8], []byte(".linux\x00\x00")):
			pos, err := f.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, err
			}
			if _, err := f.Seek(initial+int64(offset), io.SeekStart); err != nil {
				return nil, err
			}
			for _, p := range []probe{readVersionFromBzImage, readVersionFromRawStart} {
				buf, err := p(path, f)
				if buf != nil || err != nil {
					return buf, err
				}
			}
			if _, err := f.Seek(pos, io.SeekStart); err != nil {
				return nil, err
			}
		}
	}

	_, serr := f.Seek(initial, io.SeekStart)
	return nil, serr
}
