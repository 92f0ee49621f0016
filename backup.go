package nexus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/vectorvault/nexus/blobstore"
	"github.com/vectorvault/nexus/engine"
)

// BackupOptions configures a backup upload.
type BackupOptions struct {
	// BytesPerSecond throttles the upload so backups of a live store do
	// not saturate disk or network bandwidth. 0 disables throttling.
	BytesPerSecond int
}

const backupChunkSize = 256 * 1024

// Backup checkpoints the store and uploads the resulting snapshot to
// the blob store under the given name. The archive can be restored into
// a fresh directory with Restore.
func (s *Store) Backup(ctx context.Context, dst blobstore.Store, name string, optFns ...func(o *BackupOptions)) error {
	var opts BackupOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	// Checkpoint first so the snapshot alone carries the full state and
	// the WAL tail is empty.
	if err := s.Checkpoint(ctx); err != nil {
		return err
	}

	src, err := os.Open(filepath.Join(s.dir, engine.SnapshotFileName))
	if err != nil {
		return fmt.Errorf("%w: open snapshot for backup: %w", ErrStorageUnavailable, err)
	}
	defer src.Close()

	blob, err := dst.Create(ctx, name)
	if err != nil {
		s.logger.LogBackup(ctx, name, 0, err)
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	written, err := throttledCopy(ctx, blob, src, opts.BytesPerSecond)
	if err != nil {
		blob.Close()
		s.logger.LogBackup(ctx, name, written, err)
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	if err := blob.Close(); err != nil {
		s.logger.LogBackup(ctx, name, written, err)
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	s.logger.LogBackup(ctx, name, written, nil)
	return nil
}

// Restore downloads a backup archive into dir, which must not already
// contain a store. Open the directory afterwards to use the restored
// corpus.
func Restore(ctx context.Context, src blobstore.Store, name, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create restore directory: %w", err)
	}

	snapPath := filepath.Join(dir, engine.SnapshotFileName)
	if _, err := os.Stat(snapPath); err == nil {
		return fmt.Errorf("%w: %s already contains a snapshot", ErrInvalidArgument, dir)
	}

	blob, err := src.Open(ctx, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return fmt.Errorf("backup %q: %w", name, ErrNotFound)
		}
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	defer blob.Close()

	tmp, err := os.CreateTemp(dir, engine.SnapshotFileName+".tmp*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, blob); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	if err := os.Rename(tmp.Name(), snapPath); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	return nil
}

// ListBackups returns the backup names under the prefix, sorted.
func ListBackups(ctx context.Context, src blobstore.Store, prefix string) ([]string, error) {
	names, err := src.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return names, nil
}

// throttledCopy copies src to dst in chunks, pacing writes with a token
// bucket when bytesPerSecond is positive.
func throttledCopy(ctx context.Context, dst io.Writer, src io.Reader, bytesPerSecond int) (int64, error) {
	var limiter *rate.Limiter
	if bytesPerSecond > 0 {
		burst := backupChunkSize
		if bytesPerSecond < burst {
			burst = bytesPerSecond
		}
		limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	}

	buf := make([]byte, backupChunkSize)

	var written int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if limiter != nil {
				// WaitN caps at the burst size; split oversized chunks.
				remaining := n
				for remaining > 0 {
					grant := min(remaining, limiter.Burst())
					if werr := limiter.WaitN(ctx, grant); werr != nil {
						return written, werr
					}
					remaining -= grant
				}
			}
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
