// Package batch splits row sets into bounded, contiguous chunks.
package batch

import "github.com/pkg/errors"

// Split returns ceil(len(rows)/size) contiguous sub-slices of rows in
// source order. The last chunk may be shorter. An empty row set yields no
// chunks.
func Split[T any](rows []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", size)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	chunks := make([][]T, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		// cap the capacity so appending to one chunk never writes into the next
		chunks = append(chunks, rows[start:end:end])
	}
	return chunks, nil
}
