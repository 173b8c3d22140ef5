package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	path := filepath.Join(t.TempDir(), "manifest.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestLoad(t *testing.T) {
	path := writeWorkbook(t, [][]any{
		{"Meeting Title", "Audio Blob", "Owner"},
		{"Weekly sync", "sync-2025-01-06.wav", "ana"},
		{"Empty row", "", "bo"},
		{"Retro", "  retro.mp3  "},
	})

	entries, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Row: 2, BlobName: "sync-2025-01-06.wav", Title: "Weekly sync"},
		{Row: 4, BlobName: "retro.mp3", Title: "Retro"},
	}, entries)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing blob column", func(t *testing.T) {
		_, err := Load(writeWorkbook(t, [][]any{{"Owner"}, {"ana"}}))
		assert.ErrorContains(t, err, "no blob column")
	})

	t.Run("header only", func(t *testing.T) {
		_, err := Load(writeWorkbook(t, [][]any{{"File"}}))
		assert.ErrorContains(t, err, "no data rows")
	})

	t.Run("not a workbook", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.xlsx"))
		assert.Error(t, err)
	})
}
