package wizard

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// decodeText returns data as UTF-8. Files that are not valid UTF-8 are read
// as Windows-1252, the encoding Excel uses for CSV exports in pt-BR.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "\uFFFD")
	}
	return string(out)
}

// readCSV splits on newlines and commas and trims every cell. Blank lines
// are dropped. Quoted fields are not supported.
func readCSV(data []byte) [][]string {
	var rows [][]string
	for _, line := range strings.Split(decodeText(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := strings.Split(line, ",")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		rows = append(rows, cells)
	}
	return rows
}

// readXLSX returns the non-empty rows of the first sheet.
func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("wizard: open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("wizard: read sheet %q: %w", sheets[0], err)
	}
	rows := make([][]string, 0, len(raw))
	for _, r := range raw {
		empty := true
		for i := range r {
			r[i] = strings.TrimSpace(r[i])
			if r[i] != "" {
				empty = false
			}
		}
		if !empty {
			rows = append(rows, r)
		}
	}
	return rows, nil
}
