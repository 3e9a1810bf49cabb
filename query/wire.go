// Copyright (C) 2024 The fdistdump-go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package query

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/CESNET/fdistdump-sub002/field"
)

// Encode serializes t for transport.BroadcastBlock, the length-prefixed
// byte block spec.md §5 names as one of the two broadcast shapes.
func (t *Task) Encode() []byte {
	var buf []byte
	buf = append(buf, t.QueryID[:]...)
	buf = appendUint8(buf, uint8(t.Mode))
	buf = appendString(buf, t.Filter)
	buf = appendUint32(buf, uint32(len(t.Paths)))
	for _, p := range t.Paths {
		buf = appendString(buf, p)
	}
	buf = appendTime(buf, t.Begin)
	buf = appendTime(buf, t.End)
	buf = appendUint64(buf, t.Limit)
	buf = encodeFields(buf, &t.Fields)
	buf = appendBool(buf, t.UseFastTopN)
	buf = appendBool(buf, t.UseBloomIndex)
	buf = appendUint32(buf, uint32(t.WorkerCount))
	return buf
}

// Decode parses a Task from the bytes Encode produced.
func Decode(buf []byte) (*Task, error) {
	t := &Task{}
	var err error
	if len(buf) < 16 {
		return nil, fmt.Errorf("query: short task descriptor")
	}
	copy(t.QueryID[:], buf[:16])
	buf = buf[16:]

	var mode uint8
	mode, buf, err = readUint8(buf)
	if err != nil {
		return nil, err
	}
	t.Mode = Mode(mode)

	t.Filter, buf, err = readString(buf)
	if err != nil {
		return nil, err
	}

	var n uint32
	n, buf, err = readUint32(buf)
	if err != nil {
		return nil, err
	}
	t.Paths = make([]string, n)
	for i := range t.Paths {
		t.Paths[i], buf, err = readString(buf)
		if err != nil {
			return nil, err
		}
	}

	t.Begin, buf, err = readTime(buf)
	if err != nil {
		return nil, err
	}
	t.End, buf, err = readTime(buf)
	if err != nil {
		return nil, err
	}
	t.Limit, buf, err = readUint64(buf)
	if err != nil {
		return nil, err
	}
	t.Fields, buf, err = decodeFields(buf)
	if err != nil {
		return nil, err
	}
	t.UseFastTopN, buf, err = readBool(buf)
	if err != nil {
		return nil, err
	}
	t.UseBloomIndex, buf, err = readBool(buf)
	if err != nil {
		return nil, err
	}
	var wc uint32
	wc, _, err = readUint32(buf)
	if err != nil {
		return nil, err
	}
	t.WorkerCount = int(wc)
	return t, nil
}

func encodeFields(buf []byte, d *field.Descriptor) []byte {
	buf = appendUint8(buf, uint8(len(d.AggrKeys)))
	for _, k := range d.AggrKeys {
		buf = appendUint8(buf, uint8(k.Field))
		buf = appendUint8(buf, uint8(k.NetV4))
		buf = appendUint8(buf, uint8(k.NetV6))
		buf = appendUint64(buf, k.Align)
	}
	buf = appendUint8(buf, uint8(len(d.OutputFields)))
	for _, o := range d.OutputFields {
		buf = appendUint8(buf, uint8(o.Field))
		buf = appendUint8(buf, uint8(o.Func))
	}
	if d.Sort == nil {
		return appendBool(buf, false)
	}
	buf = appendBool(buf, true)
	buf = appendUint8(buf, uint8(d.Sort.Field))
	buf = appendUint8(buf, uint8(d.Sort.Dir))
	buf = appendUint8(buf, uint8(d.Sort.Func))
	buf = appendBool(buf, d.Sort.HasFunc)
	return buf
}

func decodeFields(buf []byte) (field.Descriptor, []byte, error) {
	var d field.Descriptor
	var n uint8
	var err error
	n, buf, err = readUint8(buf)
	if err != nil {
		return d, buf, err
	}
	d.AggrKeys = make([]field.AggrKey, n)
	for i := range d.AggrKeys {
		var f, v4, v6 uint8
		var align uint64
		f, buf, err = readUint8(buf)
		if err != nil {
			return d, buf, err
		}
		v4, buf, err = readUint8(buf)
		if err != nil {
			return d, buf, err
		}
		v6, buf, err = readUint8(buf)
		if err != nil {
			return d, buf, err
		}
		align, buf, err = readUint64(buf)
		if err != nil {
			return d, buf, err
		}
		d.AggrKeys[i] = field.AggrKey{Field: field.ID(f), NetV4: int(v4), NetV6: int(v6), Align: align}
	}
	n, buf, err = readUint8(buf)
	if err != nil {
		return d, buf, err
	}
	d.OutputFields = make([]field.OutputField, n)
	for i := range d.OutputFields {
		var f, fn uint8
		f, buf, err = readUint8(buf)
		if err != nil {
			return d, buf, err
		}
		fn, buf, err = readUint8(buf)
		if err != nil {
			return d, buf, err
		}
		d.OutputFields[i] = field.OutputField{Field: field.ID(f), Func: field.AggrFunc(fn)}
	}
	var hasSort bool
	hasSort, buf, err = readBool(buf)
	if err != nil {
		return d, buf, err
	}
	if hasSort {
		var f, dir, fn uint8
		var hasFunc bool
		f, buf, err = readUint8(buf)
		if err != nil {
			return d, buf, err
		}
		dir, buf, err = readUint8(buf)
		if err != nil {
			return d, buf, err
		}
		fn, buf, err = readUint8(buf)
		if err != nil {
			return d, buf, err
		}
		hasFunc, buf, err = readBool(buf)
		if err != nil {
			return d, buf, err
		}
		d.Sort = &field.SortKey{Field: field.ID(f), Dir: field.Direction(dir), Func: field.AggrFunc(fn), HasFunc: hasFunc}
	}
	return d, buf, nil
}

func appendUint8(buf []byte, v uint8) []byte { return append(buf, v) }

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendTime(buf []byte, t time.Time) []byte {
	return appendUint64(buf, uint64(t.UnixNano()))
}

func readUint8(buf []byte) (uint8, []byte, error) {
	if len(buf) < 1 {
		return 0, buf, fmt.Errorf("query: short uint8")
	}
	return buf[0], buf[1:], nil
}

func readBool(buf []byte) (bool, []byte, error) {
	v, rest, err := readUint8(buf)
	return v != 0, rest, err
}

func readUint32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, buf, fmt.Errorf("query: short uint32")
	}
	return binary.LittleEndian.Uint32(buf), buf[4:], nil
}

func readUint64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, buf, fmt.Errorf("query: short uint64")
	}
	return binary.LittleEndian.Uint64(buf), buf[8:], nil
}

func readString(buf []byte) (string, []byte, error) {
	n, buf, err := readUint32(buf)
	if err != nil {
		return "", buf, err
	}
	if uint32(len(buf)) < n {
		return "", buf, fmt.Errorf("query: short string")
	}
	return string(buf[:n]), buf[n:], nil
}

func readTime(buf []byte) (time.Time, []byte, error) {
	v, rest, err := readUint64(buf)
	if err != nil {
		return time.Time{}, rest, err
	}
	return time.Unix(0, int64(v)).UTC(), rest, nil
}
