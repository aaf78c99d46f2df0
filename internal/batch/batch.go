// Package batch partitions eligible recipients into numbered send batches.
package batch

import (
	"github.io/infrasutra/batchmail/internal/attachment"
	"github.io/infrasutra/batchmail/internal/recipient"
)

const (
	// MaxSize bounds batches when no attachments are uploaded.
	MaxSize = 4
	// MaxSizeWithAttachments bounds batches when any file is uploaded.
	MaxSizeWithAttachments = 3
	// MaxSizeLargePDF serializes sends when a 1-2 MiB PDF is present.
	MaxSizeLargePDF = 1

	LargePDFMinBytes int64 = 1 << 20
	LargePDFMaxBytes int64 = 2 << 20
)

// Batch is a contiguous run of eligible rows. Start is the 0-based
// position of the first row among all eligible rows.
type Batch struct {
	Number int
	Start  int
	Rows   []recipient.Row
}

// Limit returns the largest batch size allowed for index.
func Limit(index attachment.Index) int {
	if HasLargePDF(index) {
		return MaxSizeLargePDF
	}
	if index.Count() > 0 {
		return MaxSizeWithAttachments
	}
	return MaxSize
}

// HasLargePDF reports whether index holds a PDF within the inclusive
// [LargePDFMinBytes, LargePDFMaxBytes] range.
func HasLargePDF(index attachment.Index) bool {
	for _, entries := range index {
		for _, entry := range entries {
			if !entry.IsPDF() {
				continue
			}
			size := entry.Size()
			if size >= LargePDFMinBytes && size <= LargePDFMaxBytes {
				return true
			}
		}
	}
	return false
}

// Clamp bounds requested to [1, limit]. Zero means unspecified and yields
// limit.
func Clamp(requested, limit int) int {
	if limit < 1 {
		limit = 1
	}
	if requested == 0 || requested > limit {
		return limit
	}
	if requested < 1 {
		return 1
	}
	return requested
}

// Plan slices rows in order into batches of the clamped size.
func Plan(rows []recipient.Row, index attachment.Index, requested int) []Batch {
	size := Clamp(requested, Limit(index))
	batches := make([]Batch, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		batches = append(batches, Batch{
			Number: len(batches) + 1,
			Start:  start,
			Rows:   rows[start:end],
		})
	}
	return batches
}
