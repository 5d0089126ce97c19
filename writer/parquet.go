package writer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"marketfeed/config"
	"marketfeed/models"
)

// SeriesRow is one parquet row of an exported series.
type SeriesRow struct {
	RequestID        string   `parquet:"name=request_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Provider         string   `parquet:"name=provider, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Symbol           string   `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Interval         string   `parquet:"name=interval, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Timestamp        int64    `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Open             float64  `parquet:"name=open, type=DOUBLE"`
	High             float64  `parquet:"name=high, type=DOUBLE"`
	Low              float64  `parquet:"name=low, type=DOUBLE"`
	Close            float64  `parquet:"name=close, type=DOUBLE"`
	Volume           float64  `parquet:"name=volume, type=DOUBLE"`
	AdjustedClose    *float64 `parquet:"name=adjusted_close, type=DOUBLE, repetitiontype=OPTIONAL"`
	Dividend         *float64 `parquet:"name=dividend, type=DOUBLE, repetitiontype=OPTIONAL"`
	SplitCoefficient *float64 `parquet:"name=split_coefficient, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// Rows flattens a series into parquet rows in series order.
func Rows(series models.CanonicalSeries) []SeriesRow {
	rows := make([]SeriesRow, 0, len(series.Records))
	for _, r := range series.Records {
		rows = append(rows, SeriesRow{
			RequestID:        series.RequestID,
			Provider:         string(series.Provider),
			Symbol:           series.Symbol,
			Interval:         string(series.Window.Interval),
			Timestamp:        r.Timestamp.UnixMilli(),
			Open:             r.Open,
			High:             r.High,
			Low:              r.Low,
			Close:            r.Close,
			Volume:           r.Volume,
			AdjustedClose:    r.AdjustedClose,
			Dividend:         r.Dividend,
			SplitCoefficient: r.SplitCoefficient,
		})
	}
	return rows
}

// memoryFile is a write-only source.ParquetFile backed by a buffer.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(name string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(name string) (source.ParquetFile, error)   { return m, nil }

// Seek only reports the current size; the parquet writer never rewinds.
func (m *memoryFile) Seek(offset int64, whence int) (int64, error) {
	return int64(m.buffer.Len()), nil
}

func (m *memoryFile) Read(b []byte) (int, error)  { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error) { return m.buffer.Write(b) }
func (m *memoryFile) Close() error                { return nil }
func (m *memoryFile) Bytes() []byte               { return m.buffer.Bytes() }

func compressionCodec(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "zstd":
		return parquet.CompressionCodec_ZSTD
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// writeParquet streams rows into file and finalizes the footer.
func writeParquet(file source.ParquetFile, rows []SeriesRow, cfg config.ParquetConfig) error {
	np := cfg.Parallelism
	if np < 1 {
		np = 1
	}
	pw, err := pqwriter.NewParquetWriter(file, new(SeriesRow), np)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(cfg.Compression)

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return fmt.Errorf("failed to write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return nil
}

// EncodeParquet renders series as an in-memory parquet file.
func EncodeParquet(series models.CanonicalSeries, cfg config.ParquetConfig) ([]byte, error) {
	file := newMemoryFile()
	if err := writeParquet(file, Rows(series), cfg); err != nil {
		return nil, err
	}
	return file.Bytes(), nil
}
