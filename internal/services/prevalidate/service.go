package prevalidate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/tessari/passport/internal/common"
	"github.com/tessari/passport/internal/interfaces"
)

// Error codes returned to the operator before any job exists
const (
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeUnsupportedExtension = "UNSUPPORTED_EXTENSION"
	CodeEmptyFile            = "EMPTY_FILE"
	CodeMissingColumns       = "MISSING_COLUMNS"
)

// nameAliases and identifierAliases are matched after normalization, so
// "Product Name", "product_name" and "productname" all hit the same alias.
var (
	nameAliases = []string{
		"name", "productname", "title", "producttitle", "stylename",
	}
	identifierAliases = []string{
		"upid", "sku", "id", "productid", "stylenumber", "articlenumber",
		"ean", "gtin", "barcode",
	}

	// binaryExtensions cannot be sampled cheaply; the header check is
	// deferred to the worker's full parse
	binaryExtensions = map[string]bool{
		".xlsx": true,
		".xls":  true,
	}
)

// FileInput is the metadata the validator operates on. Ref is the
// object-storage key used to sample header rows for text formats.
type FileInput struct {
	Name string
	Size int64
	Ref  string
}

// ValidationError is one structural problem found in the uploaded file
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of a pre-validation pass
type Result struct {
	Valid   bool              `json:"valid"`
	Errors  []ValidationError `json:"errors"`
	Summary string            `json:"summary,omitempty"`
}

// Service performs cheap structural checks on an uploaded file before a job
// is created. It reads at most a bounded header sample, never the full file,
// so rejection cost does not grow with file size.
type Service struct {
	config  *common.ImportConfig
	sampler interfaces.HeaderSampler
	logger  arbor.ILogger
}

// NewService creates a new pre-validation service
func NewService(config *common.ImportConfig, sampler interfaces.HeaderSampler, logger arbor.ILogger) *Service {
	return &Service{
		config:  config,
		sampler: sampler,
		logger:  logger,
	}
}

// Validate runs the ordered structural checks, short-circuiting on the first
// failure. A failed result reports why; it never creates a job.
func (s *Service) Validate(ctx context.Context, input FileInput) Result {
	ext := strings.ToLower(filepath.Ext(input.Name))

	if input.Size > s.config.MaxFileSize {
		return s.fail(input, ValidationError{
			Code:    CodeFileTooLarge,
			Message: fmt.Sprintf("file is %d bytes, maximum allowed is %d", input.Size, s.config.MaxFileSize),
		})
	}

	if !s.extensionAllowed(ext) {
		return s.fail(input, ValidationError{
			Code:    CodeUnsupportedExtension,
			Message: fmt.Sprintf("extension %q is not supported (allowed: %s)", ext, strings.Join(s.config.AllowedExtensions, ", ")),
		})
	}

	if input.Size == 0 {
		return s.fail(input, ValidationError{
			Code:    CodeEmptyFile,
			Message: "file is empty",
		})
	}

	// Binary spreadsheets cannot be sampled cheaply; the worker's full
	// parse performs the header check for these.
	if binaryExtensions[ext] {
		return Result{Valid: true}
	}

	rows, err := s.sampler.ReadHeaderSample(ctx, input.Ref, s.config.HeaderSampleRows)
	if err != nil {
		s.logger.Warn().Err(err).Str("file", input.Name).Msg("Failed to read header sample")
		return s.fail(input, ValidationError{
			Code:    CodeEmptyFile,
			Message: "could not read a header row from the file",
		})
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return s.fail(input, ValidationError{
			Code:    CodeEmptyFile,
			Message: "file contains no header row",
		})
	}

	header := make(map[string]bool, len(rows[0]))
	for _, col := range rows[0] {
		header[normalizeColumn(col)] = true
	}

	var missing []ValidationError
	if !anyAlias(header, nameAliases) {
		missing = append(missing, ValidationError{
			Code:    CodeMissingColumns,
			Message: "no product name column found (accepted: name, product name, title, product_title, style name)",
		})
	}
	if !anyAlias(header, identifierAliases) {
		missing = append(missing, ValidationError{
			Code:    CodeMissingColumns,
			Message: "no identifier column found (accepted: upid, sku, id, product id, style number, article number, ean, gtin, barcode)",
		})
	}
	if len(missing) > 0 {
		return s.fail(input, missing...)
	}

	return Result{Valid: true}
}

func (s *Service) fail(input FileInput, errs ...ValidationError) Result {
	s.logger.Debug().
		Str("file", input.Name).
		Int64("size", input.Size).
		Str("code", errs[0].Code).
		Msg("Pre-validation rejected file")

	return Result{
		Valid:   false,
		Errors:  errs,
		Summary: fmt.Sprintf("file %q failed validation: %s", input.Name, errs[0].Message),
	}
}

func (s *Service) extensionAllowed(ext string) bool {
	for _, allowed := range s.config.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// normalizeColumn lower-cases and strips spaces, underscores and hyphens so
// header aliases match regardless of source formatting
func normalizeColumn(col string) string {
	col = strings.ToLower(strings.TrimSpace(col))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, col)
}

func anyAlias(header map[string]bool, aliases []string) bool {
	for _, alias := range aliases {
		if header[alias] {
			return true
		}
	}
	return false
}
