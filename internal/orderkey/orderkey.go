// Package orderkey generates ordering keys and item ids for ordered collections.
//
// An ordering key is "<13-digit zero-padded unix millis>#<uuidv7>". Zero padding
// keeps lexicographic order equal to numeric order; the UUIDv7 suffix makes keys
// unique and, within one process, preserves push order inside a millisecond.
package orderkey

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Width is the number of digits in the millisecond prefix (good until year 2286).
	Width = 13

	// Sep separates the millisecond prefix from the unique suffix.
	Sep = "#"

	// IDSep separates the collection name from the ordering key in an item id.
	IDSep = "@"
)

// Func produces an ordering key for a push at time t.
type Func func(t time.Time) string

// Unique returns a unique, zero-padded ordering key. This is the default.
func Unique(t time.Time) string {
	return Pad(t) + Sep + uuid.Must(uuid.NewV7()).String()
}

// Millis returns the bare unpadded millisecond timestamp. Two pushes in the
// same millisecond get the same key and therefore the same item id, so the
// second silently overwrites the first. Kept for compatibility with tables
// written that way.
func Millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Pad returns the zero-padded millisecond prefix for t.
func Pad(t time.Time) string {
	ms := t.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%0*d", Width, ms)
}

// Watermark returns the exclusive upper bound for keys pushed at or before t.
// Any key whose millisecond prefix is <= t sorts strictly below it.
func Watermark(t time.Time) string {
	return Pad(t.Add(time.Millisecond))
}

// ItemID composes the primary key "<name>@<key>".
func ItemID(name, key string) string {
	return name + IDSep + key
}

// SplitID splits an item id into collection name and ordering key.
// Collection names may contain "@"; the ordering key never does.
func SplitID(id string) (name, key string, ok bool) {
	i := strings.LastIndex(id, IDSep)
	if i < 0 {
		return "", "", false
	}
	return id[:i], id[i+len(IDSep):], true
}

// Time recovers the push time from an ordering key's millisecond prefix.
func Time(key string) (time.Time, bool) {
	prefix, _, _ := strings.Cut(key, Sep)
	ms, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
