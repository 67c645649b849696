package files

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
)

// LocalSampler reads a bounded sample of rows from uploaded files on the
// local filesystem. It only ever reads the head of a file, so the cost of
// sampling does not grow with file size.
type LocalSampler struct {
	baseDir string
	logger  arbor.ILogger
}

// NewLocalSampler creates a sampler rooted at the upload directory
func NewLocalSampler(baseDir string, logger arbor.ILogger) *LocalSampler {
	return &LocalSampler{
		baseDir: baseDir,
		logger:  logger,
	}
}

// ReadHeaderSample returns up to maxRows rows from the head of the file.
// Tab-separated files are detected by extension.
func (s *LocalSampler) ReadHeaderSample(ctx context.Context, fileRef string, maxRows int) ([][]string, error) {
	path, err := s.resolve(fileRef)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", fileRef, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // Ragged rows are the worker's problem, not the sampler's
	if strings.EqualFold(filepath.Ext(fileRef), ".tsv") {
		reader.Comma = '\t'
	}

	var rows [][]string
	for len(rows) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d of %s: %w", len(rows)+1, fileRef, err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// resolve joins the ref onto the base directory and refuses path traversal
func (s *LocalSampler) resolve(fileRef string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(s.baseDir, fileRef))
	base := filepath.Clean(s.baseDir)
	if cleaned != base && !strings.HasPrefix(cleaned, base+string(filepath.Separator)) {
		return "", fmt.Errorf("file ref escapes the upload directory: %s", fileRef)
	}
	return cleaned, nil
}
