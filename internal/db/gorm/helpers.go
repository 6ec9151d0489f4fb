package gorm

import (
	"database/sql"
	"time"
)

// maxInParams bounds IN (...) lists to stay below SQLite's variable limit.
const maxInParams = 500

// nullEpoch converts a time to a nullable epoch-millis column value.
func nullEpoch(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// epochTime converts a nullable epoch-millis column to a time (zero when NULL).
func epochTime(v sql.NullInt64) time.Time {
	if !v.Valid || v.Int64 <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

// chunkStrings splits ids into slices of at most size elements.
func chunkStrings(ids []string, size int) [][]string {
	if size <= 0 {
		size = maxInParams
	}
	var chunks [][]string
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
