// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// encoder writes little-endian uint32 fields. The first error sticks and
// every later write is a no-op.
type encoder struct {
	w   io.Writer
	buf [4]byte
	n   int64
	err error
}

func (e *encoder) u32(v uint32) {
	if e.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(e.buf[:], v)
	e.write(e.buf[:])
}

func (e *encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	n, err := e.w.Write(p)
	e.n += int64(n)
	e.err = err
}

// decoder reads little-endian uint32 fields.
type decoder struct {
	r   io.Reader
	buf [4]byte
	n   int64
}

func (d *decoder) u32() (uint32, error) {
	n, err := io.ReadFull(d.r, d.buf[:])
	d.n += int64(n)
	if err != nil {
		return 0, truncated(err)
	}
	return binary.LittleEndian.Uint32(d.buf[:]), nil
}

func (d *decoder) bytes(n uint32) ([]byte, error) {
	p := make([]byte, n)
	read, err := io.ReadFull(d.r, p)
	d.n += int64(read)
	if err != nil {
		return nil, truncated(err)
	}
	return p, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: unexpected end of stream", ErrCorruptStream)
	}
	return err
}
