package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradeBoardDataset() Dataset {
	return Dataset{
		Title:   "Algebra I",
		Headers: []string{"Student ID", "Name", "Midterm (40%)", "Final (60%)", "Total"},
		Rows: [][]string{
			{"S1", "Ana", "70", "80", "76.00"},
			{"S2", "Budi", "", "90", "54.00"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(gradeBoardDataset())
	require.NoError(t, err)
	expected := "Student ID,Name,Midterm (40%),Final (60%),Total\nS1,Ana,70,80,76.00\nS2,Budi,,90,54.00\n"
	assert.Equal(t, expected, string(out))
}

func TestCSVExporterKeepsDuplicateHeadersApart(t *testing.T) {
	out, err := NewCSVExporter().Render(Dataset{
		Headers: []string{"Student ID", "Quiz (10%)", "Quiz (10%)"},
		Rows:    [][]string{{"S1", "20", "90"}, {"S2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Student ID,Quiz (10%),Quiz (10%)\nS1,20,90\nS2,,\n", string(out))
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(gradeBoardDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestExportersRequireHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
	_, err = NewPDFExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestForFormat(t *testing.T) {
	exp, err := ForFormat("PDF")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", exp.ContentType())

	exp, err = ForFormat("")
	require.NoError(t, err)
	assert.Equal(t, ".csv", exp.Extension())

	_, err = ForFormat("xlsx")
	assert.Error(t, err)
}
