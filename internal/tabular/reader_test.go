package tabular

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/tabimport/internal/domain"
)

func TestNormalizeHeader(t *testing.T) {
	cases := map[string]string{
		"Customer Name":   "customer_name",
		"  Email ":        "email",
		"Loyalty-Tier":    "loyalty_tier",
		"Total (USD)":     "total_usd",
		"__weird__header": "weird_header",
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeHeader(raw), "header %q", raw)
	}
}

func TestParseCSVWithBOM(t *testing.T) {
	payload := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Full Name,Email\nAlice,a@x.io\nBob,b@x.io\n")...)

	table, err := Parse("people.csv", payload)
	require.NoError(t, err)

	require.Len(t, table.Columns, 2)
	assert.Equal(t, "full_name", table.Columns[0].Name)
	assert.Equal(t, "Full Name", table.Columns[0].Label)
	assert.Len(t, table.Rows, 2)
}

func TestParseRejectsUnsupportedExtension(t *testing.T) {
	_, err := Parse("notes.txt", []byte("a,b\n1,2\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedFileType))
}

func TestParseSkipsBlankRows(t *testing.T) {
	table, err := Parse("data.csv", []byte("name,age\n,\nAlice,30\n\nBob,25\n"))
	require.NoError(t, err)
	assert.Len(t, table.Rows, 2)
}

func TestCombineKeepsContinuousIndices(t *testing.T) {
	first, err := Parse("a.csv", []byte("name\nAlice\nBob\n"))
	require.NoError(t, err)
	second, err := Parse("b.csv", []byte("name,city\nCara,Leeds\n"))
	require.NoError(t, err)

	set := Combine([]Table{first, second})

	require.Len(t, set.Rows, 3)
	for i, row := range set.Rows {
		assert.Equal(t, i, row.Index)
	}
	assert.Equal(t, "a.csv", set.Rows[0].SourceFile)
	assert.Equal(t, "b.csv", set.Rows[2].SourceFile)

	// Columns across files merge by normalized name, first-seen order.
	require.Len(t, set.Columns, 2)
	assert.Equal(t, "name", set.Columns[0].Name)
	assert.Equal(t, "city", set.Columns[1].Name)
	assert.Equal(t, "", set.Rows[0].Values["city"])
}

func TestChunksPreserveGlobalIndices(t *testing.T) {
	table, err := Parse("a.csv", []byte("n\n1\n2\n3\n4\n5\n"))
	require.NoError(t, err)
	set := Combine([]Table{table})

	chunks := set.Chunks(2)
	require.Len(t, chunks, 3)

	var indices []int
	for _, chunk := range chunks {
		for _, row := range chunk {
			indices = append(indices, row.Index)
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, indices)
}
