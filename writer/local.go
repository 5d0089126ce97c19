package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"

	"marketfeed/config"
	"marketfeed/logger"
	"marketfeed/models"
)

// LocalSink writes one parquet file per series below a directory.
type LocalSink struct {
	dir     string
	part    config.PartitioningConfig
	parquet config.ParquetConfig
	log     *logger.Log
}

func NewLocalSink(cfg *config.Config) (*LocalSink, error) {
	dir := cfg.Storage.Local.Dir
	if dir == "" {
		return nil, fmt.Errorf("storage.local.dir is required when the local sink is enabled")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create local sink dir: %w", err)
	}
	return &LocalSink{
		dir:     dir,
		part:    cfg.Writer.Partitioning,
		parquet: cfg.Writer.Formats.Parquet,
		log:     logger.GetLogger(),
	}, nil
}

func (s *LocalSink) Name() string { return "local" }

func (s *LocalSink) Export(ctx context.Context, series models.CanonicalSeries) error {
	key := ObjectKey(s.part, "", series, "parquet")
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	log := s.log.WithComponent("local_sink").WithFields(logger.Fields{
		"request_id": series.RequestID,
		"path":       path,
	})

	size, err := s.write(path, series)
	observe(s.log, s.Name(), series, size, err)
	if err != nil {
		log.WithError(err).Error("failed to write parquet file")
		return err
	}
	log.WithFields(logger.Fields{"file_size": size, "records": len(series.Records)}).Debug("series written to local parquet file")
	return nil
}

func (s *LocalSink) write(path string, series models.CanonicalSeries) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create partition dir: %w", err)
	}
	file, err := local.NewLocalFileWriter(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	if err := writeParquet(file, Rows(series), s.parquet); err != nil {
		file.Close()
		os.Remove(path)
		return 0, err
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return int(info.Size()), nil
}

func (s *LocalSink) Close() error { return nil }
