package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/xitongsys/parquet-go/parquet"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// ConnectionResolver resolves a named storage connection.
type ConnectionResolver interface {
	Resolve(ctx context.Context, name string) (storage.Connection, error)
}

// ParquetWriterConfig holds the configuration for ParquetWriter.
type ParquetWriterConfig struct {
	// StorageRef names the storage connection, e.g. "exports".
	StorageRef string `mapstructure:"storageRef"`
	// OutputBaseDir is the object prefix of the exported files.
	OutputBaseDir string `mapstructure:"outputBaseDir"`
	// CompressionType is SNAPPY (default), GZIP or NONE.
	CompressionType string `mapstructure:"compressionType"`
}

// ParquetWriter encodes each chunk as one Parquet object per partition and
// uploads the objects when the chunk's transaction commits. A rollback deletes
// whatever the chunk uploaded. Objects are numbered by chunk, and the number is
// checkpointed, so a restarted step overwrites objects of an uncommitted chunk
// instead of duplicating them.
//
// One Write per transaction is assumed.
type ParquetWriter[T any] struct {
	name             string
	cfg              ParquetWriterConfig
	codec            parquet.CompressionCodec
	resolver         ConnectionResolver
	partitionKeyFunc func(T) (string, error)

	conn storage.Connection
	seq  int64
}

var (
	_ port.ItemWriter[any] = (*ParquetWriter[any])(nil)
	_ port.ItemStream      = (*ParquetWriter[any])(nil)
)

// NewParquetWriter decodes properties into a ParquetWriterConfig. A nil
// partitionKeyFunc writes every item under OutputBaseDir directly; otherwise
// the key (e.g. "dt=2024-01-01") becomes a sub directory.
func NewParquetWriter[T any](name string, properties map[string]interface{}, resolver ConnectionResolver, partitionKeyFunc func(T) (string, error)) (*ParquetWriter[T], error) {
	var cfg ParquetWriterConfig
	if err := mapstructure.Decode(properties, &cfg); err != nil {
		return nil, exception.NewBatchError("writer", fmt.Sprintf("failed to decode ParquetWriter properties for '%s'", name), err, false, false)
	}
	if cfg.StorageRef == "" {
		return nil, exception.NewBatchErrorf("writer", "ParquetWriter '%s' requires 'storageRef' property", name)
	}
	if cfg.OutputBaseDir == "" {
		return nil, exception.NewBatchErrorf("writer", "ParquetWriter '%s' requires 'outputBaseDir' property", name)
	}
	codec, err := compressionCodec(cfg.CompressionType)
	if err != nil {
		return nil, exception.NewBatchError("writer", fmt.Sprintf("ParquetWriter '%s'", name), err, false, false)
	}
	return &ParquetWriter[T]{
		name:             name,
		cfg:              cfg,
		codec:            codec,
		resolver:         resolver,
		partitionKeyFunc: partitionKeyFunc,
	}, nil
}

func (w *ParquetWriter[T]) seqKey() string { return w.name + ".written.files" }

// Open resolves the storage connection and restores the object sequence.
func (w *ParquetWriter[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	conn, err := w.resolver.Resolve(ctx, w.cfg.StorageRef)
	if err != nil {
		return exception.WriterFatalError(fmt.Sprintf("ParquetWriter '%s': failed to resolve storage connection '%s'", w.name, w.cfg.StorageRef), err)
	}
	w.conn = conn
	w.seq, _ = ec.GetInt64(w.seqKey())
	logger.Infof("ParquetWriter '%s' opened. Target storage: %s, base directory: %s, next file: %d", w.name, w.cfg.StorageRef, w.cfg.OutputBaseDir, w.seq+1)
	return nil
}

// Write encodes the chunk per partition and registers the upload with t.
func (w *ParquetWriter[T]) Write(ctx context.Context, t tx.Tx, items []T) error {
	if w.conn == nil {
		return exception.WriterFatalError(fmt.Sprintf("ParquetWriter '%s' is not open", w.name), nil)
	}
	partitions := make(map[string][]T)
	rejected := make(map[int]error)
	for i, item := range items {
		key := ""
		if w.partitionKeyFunc != nil {
			k, err := w.partitionKeyFunc(item)
			if err != nil {
				rejected[i] = exception.WriterRejectedError(fmt.Sprintf("ParquetWriter '%s': no partition key", w.name), err)
				continue
			}
			key = k
		}
		partitions[key] = append(partitions[key], item)
	}
	if len(rejected) > 0 {
		return &port.RejectedItemsError{Rejected: rejected}
	}

	seq := w.seq + 1
	objects := make(map[string][]byte, len(partitions))
	for key, part := range partitions {
		data, err := w.encode(part)
		if err != nil {
			return exception.WriterFatalError(fmt.Sprintf("ParquetWriter '%s': failed to encode partition '%s'", w.name, key), err)
		}
		objects[w.objectName(key, seq)] = data
	}
	names := make([]string, 0, len(objects))
	for n := range objects {
		names = append(names, n)
	}
	sort.Strings(names)

	var uploaded []string
	t.BeforeCommit(func() error {
		for _, n := range names {
			if err := w.conn.Upload(ctx, w.conn.Bucket(), n, bytes.NewReader(objects[n]), "application/octet-stream"); err != nil {
				return fmt.Errorf("ParquetWriter '%s': failed to upload '%s': %w", w.name, n, err)
			}
			uploaded = append(uploaded, n)
		}
		w.seq = seq
		logger.Debugf("ParquetWriter '%s': uploaded %d object(s) for chunk %d.", w.name, len(uploaded), seq)
		return nil
	})
	t.AfterRollback(func() {
		var errs *multierror.Error
		for _, n := range uploaded {
			if err := w.conn.DeleteObject(context.WithoutCancel(ctx), w.conn.Bucket(), n); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		if w.seq == seq {
			w.seq = seq - 1
		}
		if err := errs.ErrorOrNil(); err != nil {
			logger.Errorf("ParquetWriter '%s': failed to remove objects of rolled back chunk %d: %v", w.name, seq, err)
		}
	})
	return nil
}

func (w *ParquetWriter[T]) objectName(partition string, seq int64) string {
	return path.Join(w.cfg.OutputBaseDir, partition, fmt.Sprintf("%s-%06d.parquet", w.name, seq))
}

func (w *ParquetWriter[T]) encode(items []T) (data []byte, err error) {
	buf := new(bytes.Buffer)
	pw, err := pqwriter.NewParquetWriterFromWriter(buf, new(T), 1)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = w.codec
	for _, item := range items {
		if err := pw.Write(item); err != nil {
			return nil, err
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked during WriteStop: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Checkpoint returns the object sequence of the last commit.
func (w *ParquetWriter[T]) Checkpoint() model.ExecutionContext {
	ec := model.NewExecutionContext()
	ec.Put(w.seqKey(), w.seq)
	return ec
}

// Close releases the writer. The connection belongs to the storage resolver.
func (w *ParquetWriter[T]) Close(context.Context) error {
	w.conn = nil
	return nil
}

func compressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY", "":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}
