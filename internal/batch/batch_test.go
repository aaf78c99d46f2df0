package batch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/batchmail/internal/attachment"
	"github.io/infrasutra/batchmail/internal/recipient"
)

func rows(n int) []recipient.Row {
	out := make([]recipient.Row, n)
	for i := range out {
		out[i] = recipient.Row{"email": fmt.Sprintf("r%d@x.com", i), "name": fmt.Sprintf("R%d", i)}
	}
	return out
}

func sized(filename, contentType string, size int64) attachment.Entry {
	return attachment.Entry{Filename: filename, ContentType: contentType, SizeBytes: &size}
}

func TestLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		index attachment.Index
		want  int
	}{
		{name: "no attachments", index: nil, want: 4},
		{name: "empty lists", index: attachment.Index{"a": nil}, want: 4},
		{name: "small pdf", index: attachment.Index{"a": {sized("a.pdf", "application/pdf", 1024)}}, want: 3},
		{name: "1.5 MiB pdf", index: attachment.Index{"a": {sized("a.pdf", "", 3 << 19)}}, want: 1},
		{name: "exactly 1 MiB", index: attachment.Index{"a": {sized("a.bin", "application/pdf", 1 << 20)}}, want: 1},
		{name: "exactly 2 MiB", index: attachment.Index{"a": {sized("a.pdf", "", 2 << 20)}}, want: 1},
		{name: "above 2 MiB", index: attachment.Index{"a": {sized("a.pdf", "", 2<<20 + 1)}}, want: 3},
		{name: "large non-pdf", index: attachment.Index{"a": {sized("a.png", "image/png", 3 << 19)}}, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Limit(tt.index))
		})
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 4, Clamp(0, 4))
	assert.Equal(t, 1, Clamp(-3, 4))
	assert.Equal(t, 2, Clamp(2, 4))
	assert.Equal(t, 3, Clamp(4, 3))
	assert.Equal(t, 1, Clamp(4, 0))
}

func TestPlan_SlicesInOrder(t *testing.T) {
	t.Parallel()

	batches := Plan(rows(10), nil, 4)

	require.Len(t, batches, 3)
	assert.Equal(t, []int{4, 4, 2}, []int{len(batches[0].Rows), len(batches[1].Rows), len(batches[2].Rows)})
	for i, b := range batches {
		assert.Equal(t, i+1, b.Number)
		assert.Equal(t, i*4, b.Start)
	}
	assert.Equal(t, "r4@x.com", batches[1].Rows[0]["email"])
}

func TestPlan_LargePDFForcesSingles(t *testing.T) {
	t.Parallel()

	index := attachment.Index{"r0": {sized("r0.pdf", "application/pdf", 3 << 19)}}

	for _, requested := range []int{0, 1, 3, 4, 10} {
		for _, b := range Plan(rows(5), index, requested) {
			assert.Len(t, b.Rows, 1, "requested %d", requested)
		}
	}
}

func TestPlan_AttachmentsCapAtThree(t *testing.T) {
	t.Parallel()

	index := attachment.Index{"r0": {sized("r0.txt", "text/plain", 10)}}

	batches := Plan(rows(7), index, 4)
	require.Len(t, batches, 3)
	for _, b := range batches {
		assert.LessOrEqual(t, len(b.Rows), 3)
	}
}

func TestPlan_UnmatchedAttachmentStillCaps(t *testing.T) {
	t.Parallel()

	index := attachment.Index{"nobody": {sized("nobody.txt", "text/plain", 10)}}

	batches := Plan(rows(4), index, 0)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Rows, 3)
	assert.Len(t, batches[1].Rows, 1)
}

func TestPlan_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Plan(nil, nil, 2))
}
