// Package catalog implements message catalogs: lookups from a (category,
// instance) pair to the template the game shows for it.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/blukai/aochat/internal/byteorder"
)

var ErrNotFound = errors.New("not in catalog")

const (
	// mmdbTableOffset is where the category table starts; the bytes before
	// it are the file header.
	mmdbTableOffset = 8
	mmdbEntrySize   = 8 // uint32 id + uint32 offset, little-endian
	mmdbChunkSize   = 256
)

// Source is anything that can resolve a template.
type Source interface {
	MessageString(category, instance uint32) (string, bool)
}

type mmdbEntry struct {
	id     uint32
	offset uint32
}

// MMDB reads the game's binary message database. The file is a table of
// category entries pointing at per-category instance tables whose entries
// point at NUL-terminated strings. Tables are sorted by id; a smaller id
// than its predecessor ends a table.
//
// Lookups read the file on demand and are safe for concurrent use.
type MMDB struct {
	r    io.ReaderAt
	size int64
	c    io.Closer
}

func NewMMDB(r io.ReaderAt, size int64) *MMDB {
	return &MMDB{r: r, size: size}
}

// OpenMMDB opens the database at path. Close releases the file.
func OpenMMDB(path string) (*MMDB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open mmdb: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not stat mmdb: %w", err)
	}
	if info.Size() < mmdbTableOffset {
		_ = f.Close()
		return nil, fmt.Errorf("could not open mmdb: %d bytes is shorter than its header", info.Size())
	}

	m := NewMMDB(f, info.Size())
	m.c = f
	return m, nil
}

func (m *MMDB) Close() error {
	if m.c == nil {
		return nil
	}
	return m.c.Close()
}

func (m *MMDB) MessageString(category, instance uint32) (string, bool) {
	s, err := m.Lookup(category, instance)
	return s, err == nil
}

// Lookup is MessageString with the reason for a miss.
func (m *MMDB) Lookup(category, instance uint32) (string, error) {
	cat, err := m.findEntry(category, mmdbTableOffset)
	if err != nil {
		return "", fmt.Errorf("category %d: %w", category, err)
	}
	ins, err := m.findEntry(instance, int64(cat.offset))
	if err != nil {
		return "", fmt.Errorf("instance %d/%d: %w", category, instance, err)
	}
	return m.readString(int64(ins.offset))
}

// Categories lists the category ids in file order.
func (m *MMDB) Categories() ([]uint32, error) {
	entries, err := m.table(mmdbTableOffset)
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}

// Instances lists the instance ids of category.
func (m *MMDB) Instances(category uint32) ([]uint32, error) {
	cat, err := m.findEntry(category, mmdbTableOffset)
	if err != nil {
		return nil, fmt.Errorf("category %d: %w", category, err)
	}
	entries, err := m.table(int64(cat.offset))
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}

func (m *MMDB) readEntry(offset int64) (mmdbEntry, error) {
	var buf [mmdbEntrySize]byte
	if offset < 0 || offset+mmdbEntrySize > m.size {
		return mmdbEntry{}, io.EOF
	}
	if _, err := m.r.ReadAt(buf[:], offset); err != nil {
		return mmdbEntry{}, err
	}
	return mmdbEntry{
		id:     byteorder.Vtohl(buf[0:4]),
		offset: byteorder.Vtohl(buf[4:8]),
	}, nil
}

// table reads entries from offset until the ids stop increasing.
func (m *MMDB) table(offset int64) ([]mmdbEntry, error) {
	var entries []mmdbEntry
	for ; ; offset += mmdbEntrySize {
		e, err := m.readEntry(offset)
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("could not read entry at %d: %w", offset, err)
		}
		if e.offset == 0 || len(entries) > 0 && e.id < entries[len(entries)-1].id {
			return entries, nil
		}
		entries = append(entries, e)
	}
}

func (m *MMDB) findEntry(id uint32, offset int64) (mmdbEntry, error) {
	var prev *mmdbEntry
	for ; ; offset += mmdbEntrySize {
		e, err := m.readEntry(offset)
		if errors.Is(err, io.EOF) {
			return mmdbEntry{}, ErrNotFound
		}
		if err != nil {
			return mmdbEntry{}, fmt.Errorf("could not read entry at %d: %w", offset, err)
		}
		if prev != nil && e.id < prev.id {
			return mmdbEntry{}, ErrNotFound
		}
		if e.id == id {
			// offset 0 is the header, so this is an end-of-table marker
			if e.offset == 0 {
				return mmdbEntry{}, ErrNotFound
			}
			return e, nil
		}
		prev = &e
	}
}

func (m *MMDB) readString(offset int64) (string, error) {
	var out []byte
	chunk := make([]byte, mmdbChunkSize)
	for offset < m.size {
		n, err := m.r.ReadAt(chunk, offset)
		if i := bytes.IndexByte(chunk[:n], 0); i >= 0 {
			return string(append(out, chunk[:i]...)), nil
		}
		out = append(out, chunk[:n]...)
		offset += int64(n)
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("could not read string: %w", err)
		}
		if n == 0 {
			break
		}
	}
	// an unterminated string at the end of the file is taken as is
	return string(out), nil
}

// EncodeMMDB lays out categories in the format MMDB reads. Every table is
// closed by a zero entry.
func EncodeMMDB(categories map[uint32]map[uint32]string) []byte {
	catIDs := sortedKeys(categories)

	header := []byte("MMDB")
	header = append(header, byteorder.Htovl(uint32(len(catIDs)))...)

	catTableSize := (len(catIDs) + 1) * mmdbEntrySize
	offset := mmdbTableOffset + catTableSize

	// instance tables first, then strings
	var insTables, strs []byte
	insOffsets := make([]uint32, len(catIDs))
	tablesSize := 0
	for _, cat := range catIDs {
		tablesSize += (len(categories[cat]) + 1) * mmdbEntrySize
	}
	strOffset := offset + tablesSize

	for i, cat := range catIDs {
		insOffsets[i] = uint32(offset + len(insTables))
		instances := categories[cat]
		for _, ins := range sortedKeys(instances) {
			insTables = append(insTables, byteorder.Htovl(ins)...)
			insTables = append(insTables, byteorder.Htovl(uint32(strOffset+len(strs)))...)
			strs = append(strs, instances[ins]...)
			strs = append(strs, 0)
		}
		insTables = append(insTables, make([]byte, mmdbEntrySize)...)
	}

	out := header
	for i, cat := range catIDs {
		out = append(out, byteorder.Htovl(cat)...)
		out = append(out, byteorder.Htovl(insOffsets[i])...)
	}
	out = append(out, make([]byte, mmdbEntrySize)...)
	out = append(out, insTables...)
	return append(out, strs...)
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
