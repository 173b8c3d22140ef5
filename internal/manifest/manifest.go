// Package manifest reads batch spreadsheets listing the audio blobs to process.
package manifest

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Entry is one row of a manifest.
type Entry struct {
	Row      int
	BlobName string
	Title    string
}

// Load opens the workbook at path and reads its first sheet.
func Load(path string) ([]Entry, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return read(f)
}

func read(f *excelize.File) ([]Entry, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("manifest has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("manifest has no data rows")
	}

	// detect columns from the header
	blobIdx, titleIdx := -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "blob") || strings.Contains(l, "audio") || strings.Contains(l, "file"):
			if blobIdx == -1 {
				blobIdx = i
			}
		case strings.Contains(l, "title") || strings.Contains(l, "meeting") || strings.Contains(l, "name"):
			if titleIdx == -1 {
				titleIdx = i
			}
		}
	}
	if blobIdx == -1 {
		return nil, fmt.Errorf("no blob column in header %q", rows[0])
	}

	var out []Entry
	for i, r := range rows[1:] {
		if blobIdx >= len(r) {
			continue
		}
		name := strings.TrimSpace(r[blobIdx])
		if name == "" {
			continue
		}
		e := Entry{Row: i + 2, BlobName: name}
		if titleIdx >= 0 && titleIdx < len(r) {
			e.Title = strings.TrimSpace(r[titleIdx])
		}
		out = append(out, e)
	}
	return out, nil
}
