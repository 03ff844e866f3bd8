package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// csvBatchSize is the number of rows rendered into one paragraph.
const csvBatchSize = 20

// loadCSV renders rows as "header: value" lines, the first row being the
// header.
func loadCSV(r io.Reader) (Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return Document{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return Document{}, nil
	}

	headers := records[0]
	dataRows := records[1:]

	var paragraphs []string
	for i := 0; i < len(dataRows); i += csvBatchSize {
		end := min(i+csvBatchSize, len(dataRows))

		var text strings.Builder
		for _, row := range dataRows[i:end] {
			for j, cell := range row {
				if j > 0 {
					text.WriteString(", ")
				}
				if j < len(headers) {
					text.WriteString(headers[j] + ": ")
				}
				text.WriteString(cell)
			}
			text.WriteString("\n")
		}
		paragraphs = append(paragraphs, text.String())
	}
	return Document{Text: joinParagraphs(paragraphs)}, nil
}
