package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func writeUpload(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestReadHeaderSampleCSV(t *testing.T) {
	dir := t.TempDir()
	writeUpload(t, dir, "catalog.csv", "name,sku,color\nLinen Shirt,LS-001,White\nWool Coat,WC-002,Grey\nSilk Scarf,SS-003,Teal\n")
	sampler := NewLocalSampler(dir, arbor.NewLogger())

	rows, err := sampler.ReadHeaderSample(context.Background(), "catalog.csv", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"name", "sku", "color"}, rows[0])
	assert.Equal(t, "Linen Shirt", rows[1][0])
}

func TestReadHeaderSampleTSV(t *testing.T) {
	dir := t.TempDir()
	writeUpload(t, dir, "catalog.tsv", "name\tsku\nLinen Shirt\tLS-001\n")
	sampler := NewLocalSampler(dir, arbor.NewLogger())

	rows, err := sampler.ReadHeaderSample(context.Background(), "catalog.tsv", 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"name", "sku"}, rows[0])
}

func TestReadHeaderSampleToleratesRaggedRows(t *testing.T) {
	dir := t.TempDir()
	writeUpload(t, dir, "ragged.csv", "name,sku\na,b,c\nd\n")
	sampler := NewLocalSampler(dir, arbor.NewLogger())

	rows, err := sampler.ReadHeaderSample(context.Background(), "ragged.csv", 5)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestReadHeaderSampleRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	sampler := NewLocalSampler(dir, arbor.NewLogger())

	_, err := sampler.ReadHeaderSample(context.Background(), "../../etc/passwd", 1)
	assert.Error(t, err)
}

func TestReadHeaderSampleMissingFile(t *testing.T) {
	dir := t.TempDir()
	sampler := NewLocalSampler(dir, arbor.NewLogger())

	_, err := sampler.ReadHeaderSample(context.Background(), "absent.csv", 1)
	assert.Error(t, err)
}
