package index

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaymind/orchestrator/pkg/trajectory"
)

// structuredFilePattern matches the Trajectory Writer's structured-record
// files (trajectories_<period>.jsonl), deliberately excluding its sibling
// raw_trajectories_<period>.jsonl files — the raw transcripts carry no
// summary fields worth indexing.
const structuredFilePattern = "trajectories_*.jsonl"

// discoverFiles walks baseDir for every period-partitioned structured
// trajectory file (§6.5's <base_dir>/<period>/trajectories_<period>.jsonl
// layout).
func discoverFiles(baseDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // tolerate a file/directory vanishing mid-walk
		}
		if d.IsDir() {
			return nil
		}
		matched, _ := filepath.Match(structuredFilePattern, d.Name())
		if matched {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index: walk %q: %w", baseDir, err)
	}
	return files, nil
}

// tailFile reads path from its last checkpointed byte offset to EOF,
// upserting one trajectory_index row per complete JSONL line, then saves
// the new offset. A line that isn't terminated by '\n' yet (a writer mid-
// append) is left unread for the next pass.
func tailFile(ctx context.Context, pool *pgxpool.Pool, path string) (int, error) {
	f, err := openFileForTailing(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	offset, err := checkpoint(ctx, pool, path)
	if err != nil {
		return 0, err
	}

	size, err := fileSize(f)
	if err != nil {
		return 0, err
	}
	if offset > size {
		// File was truncated/replaced since the last checkpoint — restart
		// from the beginning rather than skipping content.
		offset = 0
	}
	if offset == size {
		return 0, nil
	}

	if _, err := f.Seek(offset, 0); err != nil {
		return 0, fmt.Errorf("index: seek %q: %w", path, err)
	}

	reader := bufio.NewReader(f)
	var consumed int64
	var indexed int

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 && strings.HasSuffix(line, "\n") {
			consumed += int64(len(line))
			var rec trajectory.StructuredRecord
			if decodeErr := json.Unmarshal([]byte(line), &rec); decodeErr != nil {
				slog.Warn("index: skipping malformed trajectory line", "path", path, "error", decodeErr)
				continue
			}
			if upsertErr := upsertRecord(ctx, pool, rec); upsertErr != nil {
				return indexed, upsertErr
			}
			indexed++
		}
		if err != nil {
			break // EOF, or a trailing partial line we leave for next time
		}
	}

	if consumed == 0 {
		return 0, nil
	}
	if err := saveCheckpoint(ctx, pool, path, offset+consumed); err != nil {
		return indexed, err
	}
	return indexed, nil
}
