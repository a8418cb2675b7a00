package segment

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// IndexEntry is one parsed line of a segment_<id>.log.index file.
type IndexEntry struct {
	Key       string
	SegmentID int
	Offset    int64
	Size      int
	Timestamp uint64
	Tombstone bool
}

func indexPath(dir string, id int) string {
	return fmt.Sprintf("%s/segment_%d.log.index", dir, id)
}

// escapeKey backslash-escapes tab, newline, and backslash so a key can
// never be confused with the field or line separators.
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescapeKey(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("dangling escape at end of key")
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		default:
			return "", fmt.Errorf("invalid escape sequence \\%c", s[i])
		}
	}
	return b.String(), nil
}

func formatIndexLine(e IndexEntry) string {
	tomb := 0
	if e.Tombstone {
		tomb = 1
	}
	return fmt.Sprintf("%s\t%d\t%d\t%d\t%d\t%d\n",
		escapeKey(e.Key), e.SegmentID, e.Offset, e.Size, e.Timestamp, tomb)
}

func parseIndexLine(line string) (IndexEntry, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 6 {
		return IndexEntry{}, fmt.Errorf("expected 6 fields, got %d", len(fields))
	}

	key, err := unescapeKey(fields[0])
	if err != nil {
		return IndexEntry{}, fmt.Errorf("key: %w", err)
	}

	segID, err := strconv.Atoi(fields[1])
	if err != nil {
		return IndexEntry{}, fmt.Errorf("segment_id: %w", err)
	}

	offset, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return IndexEntry{}, fmt.Errorf("offset: %w", err)
	}

	size, err := strconv.Atoi(fields[3])
	if err != nil {
		return IndexEntry{}, fmt.Errorf("size: %w", err)
	}

	ts, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return IndexEntry{}, fmt.Errorf("timestamp: %w", err)
	}

	tombRaw, err := strconv.Atoi(fields[5])
	if err != nil {
		return IndexEntry{}, fmt.Errorf("tombstone: %w", err)
	}

	return IndexEntry{
		Key:       key,
		SegmentID: segID,
		Offset:    offset,
		Size:      size,
		Timestamp: ts,
		Tombstone: tombRaw != 0,
	}, nil
}

// ReadIndex parses an entire segment_<id>.log.index file, for use by
// recovery outside this package. A missing or malformed file returns an
// error so the caller falls back to scanning the segment's .log.
func ReadIndex(dir string, id int) ([]IndexEntry, error) {
	return readIndex(dir, id)
}

// readIndex parses an entire .log.index file. Any malformed line aborts
// the read and returns an error so the caller falls back to scanning the
// segment's .log instead.
func readIndex(dir string, id int) ([]IndexEntry, error) {
	f, err := os.Open(indexPath(dir, id))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []IndexEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		e, err := parseIndexLine(line)
		if err != nil {
			return nil, fmt.Errorf("malformed index line %q: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func appendIndexLine(f *os.File, e IndexEntry) error {
	_, err := f.WriteString(formatIndexLine(e))
	return err
}
