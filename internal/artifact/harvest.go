package artifact

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// readFile is replaced in tests.
var readFile = os.ReadFile

// Harvest walks root and returns every image file under it in walk order.
// Files that cannot be read are logged and skipped.
func Harvest(ctx context.Context, root string, logger *slog.Logger) []Candidate {
	if logger == nil {
		logger = slog.Default()
	}

	var out []Candidate
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.WarnContext(ctx, "skipping unreadable path", "path", p, "error", err)
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		mt := MediaType(d.Name())
		if mt == "" {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			logger.WarnContext(ctx, "skipping artifact outside root", "path", p, "error", err)
			return nil
		}
		data, err := readFile(p)
		if err != nil {
			logger.WarnContext(ctx, "skipping unreadable artifact", "path", rel, "error", err)
			return nil
		}

		out = append(out, Candidate{
			Path:      filepath.ToSlash(rel),
			MediaType: mt,
			Data:      data,
		})
		return nil
	})
	if err != nil {
		logger.WarnContext(ctx, "artifact walk stopped early", "root", root, "error", err)
	}
	return out
}
