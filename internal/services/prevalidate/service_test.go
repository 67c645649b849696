package prevalidate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/tessari/passport/internal/common"
)

type fakeSampler struct {
	rows [][]string
	err  error
}

func (f *fakeSampler) ReadHeaderSample(ctx context.Context, fileRef string, maxRows int) ([][]string, error) {
	return f.rows, f.err
}

func newTestService(sampler *fakeSampler) *Service {
	cfg := common.DefaultConfig().Import
	return NewService(&cfg, sampler, arbor.NewLogger())
}

func TestValidateAcceptsWellFormedCSV(t *testing.T) {
	svc := newTestService(&fakeSampler{rows: [][]string{
		{"Product Name", "SKU", "Color", "Material"},
		{"Linen Shirt", "LS-001", "White", "Linen"},
	}})

	result := svc.Validate(context.Background(), FileInput{Name: "catalog.csv", Size: 2048, Ref: "uploads/catalog.csv"})
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateRejectsOversizedFile(t *testing.T) {
	svc := newTestService(&fakeSampler{})

	result := svc.Validate(context.Background(), FileInput{Name: "huge.csv", Size: 11 * 1024 * 1024})
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, CodeFileTooLarge, result.Errors[0].Code)
	assert.NotEmpty(t, result.Summary)
}

func TestValidateRejectsUnsupportedExtension(t *testing.T) {
	svc := newTestService(&fakeSampler{})

	result := svc.Validate(context.Background(), FileInput{Name: "catalog.pdf", Size: 1024})
	require.False(t, result.Valid)
	assert.Equal(t, CodeUnsupportedExtension, result.Errors[0].Code)
}

func TestValidateRejectsEmptyFile(t *testing.T) {
	svc := newTestService(&fakeSampler{})

	result := svc.Validate(context.Background(), FileInput{Name: "catalog.csv", Size: 0})
	require.False(t, result.Valid)
	assert.Equal(t, CodeEmptyFile, result.Errors[0].Code)
}

func TestValidateRejectsMissingIdentifierColumn(t *testing.T) {
	// Three-row CSV with a name column but no identifier column
	svc := newTestService(&fakeSampler{rows: [][]string{
		{"Product Name", "Color"},
		{"Linen Shirt", "White"},
		{"Wool Coat", "Grey"},
	}})

	result := svc.Validate(context.Background(), FileInput{Name: "catalog.csv", Size: 256, Ref: "uploads/catalog.csv"})
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, CodeMissingColumns, result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, "upid")
	assert.Contains(t, result.Errors[0].Message, "sku")
}

func TestValidateReportsBothMissingColumns(t *testing.T) {
	svc := newTestService(&fakeSampler{rows: [][]string{
		{"Color", "Material"},
	}})

	result := svc.Validate(context.Background(), FileInput{Name: "catalog.csv", Size: 128, Ref: "uploads/catalog.csv"})
	require.False(t, result.Valid)
	assert.Len(t, result.Errors, 2)
	for _, e := range result.Errors {
		assert.Equal(t, CodeMissingColumns, e.Code)
	}
}

func TestValidateNormalizesHeaderAliases(t *testing.T) {
	// Underscores, hyphens, casing and padding are all accepted
	svc := newTestService(&fakeSampler{rows: [][]string{
		{" Style_Name ", "ARTICLE-NUMBER"},
	}})

	result := svc.Validate(context.Background(), FileInput{Name: "catalog.tsv", Size: 64, Ref: "uploads/catalog.tsv"})
	assert.True(t, result.Valid)
}

func TestValidateSkipsHeaderCheckForBinarySpreadsheets(t *testing.T) {
	// The sampler would fail, but xlsx defers the header check to the worker
	svc := newTestService(&fakeSampler{err: errors.New("binary format")})

	result := svc.Validate(context.Background(), FileInput{Name: "catalog.xlsx", Size: 4096, Ref: "uploads/catalog.xlsx"})
	assert.True(t, result.Valid)
}

func TestValidateRejectsUnreadableHeader(t *testing.T) {
	svc := newTestService(&fakeSampler{err: errors.New("truncated file")})

	result := svc.Validate(context.Background(), FileInput{Name: "catalog.csv", Size: 64, Ref: "uploads/catalog.csv"})
	require.False(t, result.Valid)
	assert.Equal(t, CodeEmptyFile, result.Errors[0].Code)
}
