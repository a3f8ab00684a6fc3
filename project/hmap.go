// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package project

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// https://source.chromium.org/chromium/chromium/src/+/main:build/config/ios/write_framework_hmap.py
// https://chromium.googlesource.com/infra/goma/client/+/refs/heads/main/client/cxx/include_processor/include_file_utils.cc#41

var hmapMagic = [4]byte{'p', 'a', 'm', 'h'}

const (
	hmapVersion    = 1
	hmapHeaderSize = 24
	hmapBucketSize = 12
)

type hmapParser struct {
	strs []byte
	buf  []byte
	err  error
}

func (p *hmapParser) checkMagic() {
	if !bytes.HasPrefix(p.buf, hmapMagic[:]) {
		p.buf = nil
		p.err = fmt.Errorf("wrong hmap magic")
		return
	}
	p.buf = p.buf[4:]
}

func (p *hmapParser) checkVersion() {
	if p.err != nil {
		return
	}
	version := p.uint16("version")
	if p.err == nil && version != hmapVersion {
		p.buf = nil
		p.err = fmt.Errorf("unknown hmap version %d", version)
	}
}

func (p *hmapParser) uint16(field string) uint16 {
	if p.err != nil {
		return 0
	}
	if len(p.buf) < 2 {
		p.buf = nil
		p.err = fmt.Errorf("not enough for uint16 %s", field)
		return 0
	}
	v := binary.LittleEndian.Uint16(p.buf)
	p.buf = p.buf[2:]
	return v
}

func (p *hmapParser) uint32(field string) uint32 {
	if p.err != nil {
		return 0
	}
	if len(p.buf) < 4 {
		p.buf = nil
		p.err = fmt.Errorf("not enough for uint32 %s", field)
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf)
	p.buf = p.buf[4:]
	return v
}

func (p *hmapParser) str(field string) string {
	i := p.uint32(field)
	if p.err != nil || i == 0 {
		return ""
	}
	if int(i) >= len(p.strs) {
		p.err = fmt.Errorf("out of index %s=%d", field, i)
		return ""
	}
	v := p.strs[i:]
	e := bytes.IndexByte(v, 0)
	if e < 0 {
		p.err = fmt.Errorf("unterminated %s=%d", field, i)
		return ""
	}
	return string(v[:e])
}

// HeaderMap is a header map (*.hmap) used as an include dir.
// Keys are matched case-insensitively as clang does.
type HeaderMap map[string]string

// ParseHeaderMap parses *.hmap file.
func ParseHeaderMap(buf []byte) (HeaderMap, error) {
	p := &hmapParser{buf: buf}
	p.checkMagic()
	p.checkVersion()
	p.uint16("reserved")
	stringOffset := p.uint32("string_offset")
	p.uint32("string_count")
	hashCapacity := p.uint32("hash_capacity")
	p.uint32("max_value_length")
	if p.err != nil {
		return nil, fmt.Errorf("failed to parse hmap header: %w", p.err)
	}
	if len(buf) < int(stringOffset) {
		return nil, fmt.Errorf("invalid string_offset=%d hmap size=%d", stringOffset, len(buf))
	}
	p.strs = buf[stringOffset:]
	m := make(HeaderMap)
	for i := 0; i < int(hashCapacity); i++ {
		if len(p.buf) < hmapBucketSize {
			break
		}
		key := p.str("key")
		prefix := p.str("prefix")
		suffix := p.str("suffix")
		if p.err != nil {
			return nil, fmt.Errorf("failed to get hmap bucket:%d: %w", i, p.err)
		}
		if key == "" {
			continue
		}
		m[strings.ToLower(key)] = prefix + suffix
	}
	return m, nil
}

// Lookup returns the path mapped for the include name.
func (m HeaderMap) Lookup(name string) (string, bool) {
	v, ok := m[strings.ToLower(name)]
	return v, ok
}

// hmapHash is the bucket hash used by clang.
func hmapHash(key string) uint32 {
	var h uint32
	for _, c := range []byte(strings.ToLower(key)) {
		h += uint32(c) * 13
	}
	return h
}

// Marshal encodes the header map in *.hmap format.
// Each value is split into prefix (dir with trailing slash) and suffix
// (base name).
func (m HeaderMap) Marshal() []byte {
	capacity := uint32(1)
	for capacity < uint32(len(m))*2 {
		capacity *= 2
	}
	type bucket struct{ key, prefix, suffix uint32 }
	buckets := make([]bucket, capacity)
	strs := []byte{0}
	intern := func(s string) uint32 {
		off := uint32(len(strs))
		strs = append(append(strs, s...), 0)
		return off
	}
	var maxValueLen int
	for key, value := range m {
		i := strings.LastIndexByte(value, '/') + 1
		prefix, suffix := value[:i], value[i:]
		maxValueLen = max(maxValueLen, len(value))
		b := hmapHash(key) & (capacity - 1)
		for buckets[b].key != 0 {
			b = (b + 1) & (capacity - 1)
		}
		buckets[b] = bucket{key: intern(key), prefix: intern(prefix), suffix: intern(suffix)}
	}
	var buf bytes.Buffer
	buf.Write(hmapMagic[:])
	le := binary.LittleEndian
	buf.Write(le.AppendUint16(nil, hmapVersion))
	buf.Write(le.AppendUint16(nil, 0))
	buf.Write(le.AppendUint32(nil, uint32(hmapHeaderSize)+capacity*hmapBucketSize))
	buf.Write(le.AppendUint32(nil, uint32(len(m))))
	buf.Write(le.AppendUint32(nil, capacity))
	buf.Write(le.AppendUint32(nil, uint32(maxValueLen)))
	for _, b := range buckets {
		buf.Write(le.AppendUint32(nil, b.key))
		buf.Write(le.AppendUint32(nil, b.prefix))
		buf.Write(le.AppendUint32(nil, b.suffix))
	}
	buf.Write(strs)
	return buf.Bytes()
}
