package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/infoburn/constants"
)

// FileResult is the per-file outcome of a filesystem ingest.
type FileResult struct {
	Path   string
	CaseID string
	Result Result
	Err    string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Accepted     uint32
	Deduplicated uint32
	Rejected     uint32
	Failed       uint32
}

// IngestPath submits one inbox file named "<case id><suffix>.<ext>", where
// the suffix is E, A, BIC or O and the extension selects the media type.
func (i *Ingestor) IngestPath(ctx context.Context, path string) (FileResult, error) {
	out := FileResult{Path: path}
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	caseID, kind, ok := constants.ParseDocumentName(strings.TrimSuffix(base, ext))
	if !ok {
		i.logger.Warn("ingest.unrecognized_name", "path", path)
		return out, fmt.Errorf("%s: name does not follow <case id><E|A|BIC|O>.<ext>", base)
	}
	out.CaseID = caseID

	content, err := os.ReadFile(path)
	if err != nil {
		i.logger.Error("failed to read inbox file", "path", path, "error", err)
		return out, err
	}
	out.Result, err = i.Submit(ctx, Submission{
		CaseID:    caseID,
		Kind:      string(kind),
		MediaType: constants.MediaTypeForExt(ext),
		Filename:  base,
		Content:   content,
	})
	return out, err
}

// IngestDirectory walks root, skips hidden entries if requested, and submits
// every file with a supported extension. Per-file problems are collected,
// not returned.
func (i *Ingestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var (
		results []FileResult
		stats   DirStats
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && isHidden(path) && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || constants.MediaTypeForExt(filepath.Ext(path)) == "" {
			return nil
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, path)
		if err != nil {
			r.Err = err.Error()
			results = append(results, r)
			stats.Failed++
			return nil
		}
		results = append(results, r)
		switch {
		case !r.Result.Accepted:
			stats.Rejected++
		case r.Result.Deduplicated:
			stats.Accepted++
			stats.Deduplicated++
		default:
			stats.Accepted++
		}
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	i.logger.Info("ingest.directory",
		"root", root,
		"scanned", stats.Scanned, "matched", stats.Matched,
		"accepted", stats.Accepted, "deduplicated", stats.Deduplicated,
		"rejected", stats.Rejected, "failed", stats.Failed,
	)
	return results, stats, nil
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
