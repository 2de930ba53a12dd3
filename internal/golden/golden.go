// Package golden compares test output against gzip compressed golden
// files.
package golden

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
)

// Compare compares got with the contents of the golden file at path.
// If update is set, the golden file is replaced by got instead.
func Compare(path string, update bool, got []byte) error {
	if update {
		buf := new(bytes.Buffer)
		w, err := gzip.NewWriterLevel(buf, gzip.BestCompression)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		w.Write(got)
		if err := w.Close(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return os.WriteFile(path, buf.Bytes(), 0o640)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	want, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	mismatches, first := 0, -1
	for i := range min(len(got), len(want)) {
		if got[i] != want[i] {
			if first == -1 {
				first = i
			}
			mismatches++
		}
	}
	if mismatches > 0 || len(got) != len(want) {
		return fmt.Errorf("%s: lengths %d, %d, with %d byte mismatches starting at offset %d", path, len(got), len(want), mismatches, first)
	}
	return nil
}
