package meta

import (
	"fmt"
	"strings"
	"time"
)

// FileKeyPrefix is the first segment of every file key.
const FileKeyPrefix = "files"

// fileKeySegments is the number of '/' separated parts of a file key:
// files/{org}/{stream_type}/{stream_name}/{YYYY}/{MM}/{DD}/{HH}/{file_name}
const fileKeySegments = 9

// ParseFileKeyColumns splits a file key into (stream_key, date_key, file_name).
func ParseFileKeyColumns(key string) (stream, date, file string, err error) {
	parts := strings.SplitN(key, "/", fileKeySegments)
	if len(parts) < fileKeySegments {
		return "", "", "", fmt.Errorf("%w: file key %q", ErrInvalidKey, key)
	}
	stream = strings.Join(parts[1:4], "/")
	date = strings.Join(parts[4:8], "/")
	file = parts[8]
	return stream, date, file, nil
}

// BuildFileKey is the inverse of ParseFileKeyColumns.
func BuildFileKey(stream, date, file string) string {
	return FileKeyPrefix + "/" + stream + "/" + date + "/" + file
}

// ParseStreamKey splits {org}/{stream_type}/{stream_name}.
func ParseStreamKey(stream string) (org string, streamType StreamType, name string, err error) {
	parts := strings.SplitN(stream, "/", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: stream key %q", ErrInvalidKey, stream)
	}
	return parts[0], StreamType(parts[1]), parts[2], nil
}

// BuildStreamKey joins org, type and name into a stream key.
func BuildStreamKey(org string, streamType StreamType, name string) string {
	return org + "/" + string(streamType) + "/" + name
}

// OrgOfFileKey returns the org segment of a file key.
func OrgOfFileKey(key string) (string, error) {
	stream, _, _, err := ParseFileKeyColumns(key)
	if err != nil {
		return "", err
	}
	org, _, _, err := ParseStreamKey(stream)
	return org, err
}

// DateKey formats a microsecond timestamp as YYYY/MM/DD/HH in UTC.
func DateKey(micros int64) string {
	return time.UnixMicro(micros).UTC().Format("2006/01/02/15")
}

// DayKey formats a microsecond timestamp as YYYY/MM/DD in UTC.
func DayKey(micros int64) string {
	return time.UnixMicro(micros).UTC().Format("2006/01/02")
}

// ParseKVKey splits /{module}/{key1}/{key2...} into its parts. key2 keeps any
// embedded '/'.
func ParseKVKey(key string) (module, key1, key2 string) {
	key = strings.TrimPrefix(key, "/")
	parts := strings.SplitN(key, "/", 3)
	switch len(parts) {
	case 1:
		return parts[0], "", ""
	case 2:
		return parts[0], parts[1], ""
	default:
		return parts[0], parts[1], parts[2]
	}
}

// BuildKVKey is the inverse of ParseKVKey.
func BuildKVKey(module, key1, key2 string) string {
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(module)
	if key1 == "" && key2 == "" {
		return b.String()
	}
	b.WriteString("/")
	b.WriteString(key1)
	if key2 == "" {
		return b.String()
	}
	b.WriteString("/")
	b.WriteString(key2)
	return b.String()
}

// KVPrefix describes which KV columns a prefix pins down. Complete columns are
// followed by '/' in the prefix and must match exactly; Partial is the trailing
// column text that must be a prefix of its column.
type KVPrefix struct {
	Exact        []string
	Partial      string
	PartialIndex int
}

// ParseKVPrefix splits a watch/list prefix into exact columns and a trailing
// partial column.
func ParseKVPrefix(prefix string) KVPrefix {
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix == "" {
		return KVPrefix{}
	}
	parts := strings.SplitN(prefix, "/", 3)
	last := len(parts) - 1
	return KVPrefix{
		Exact:        parts[:last],
		Partial:      parts[last],
		PartialIndex: last,
	}
}
