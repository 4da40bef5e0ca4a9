package connector

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/weftrun/weft/internal/errs"
	"github.com/weftrun/weft/internal/resource"
)

// FSConnector is a Connector backed by a local (or any fs.FS-compatible)
// filesystem tree. Selectors are glob patterns relative to Root; a selector
// prefixed with "!" excludes matches from the result set.
type FSConnector struct {
	// Root is the directory selectors are resolved against.
	Root string

	// MimeDetector maps a file path to a mime type. Defaults to a
	// suffix-based guesser when nil.
	MimeDetector func(path string) string
}

// NewFSConnector constructs an FSConnector rooted at root.
func NewFSConnector(root string) *FSConnector {
	return &FSConnector{Root: root}
}

// List walks Root, returning every regular file whose relative path matches
// at least one include selector and no exclude selector. An empty include
// set matches everything.
func (c *FSConnector) List(ctx context.Context, selectors []string) (Iterator, error) {
	includes, excludes := splitSelectors(selectors)

	var matches []resource.Descriptor
	walkErr := filepath.WalkDir(c.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(c.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if len(includes) > 0 && !matchesAny(includes, rel) {
			return nil
		}
		if matchesAny(excludes, rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		matches = append(matches, resource.Descriptor{
			URI:        "file://" + filepath.Join(c.Root, rel),
			Mime:       c.detectMime(rel),
			SizeBytes:  info.Size(),
			ETagOrHash: fsETag(info),
			ModifiedAt: info.ModTime(),
		})
		return nil
	})
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			return nil, errs.Wrap(errs.Connector, walkErr, "not_found: %s", c.Root)
		}
		if os.IsPermission(walkErr) {
			return nil, errs.Wrap(errs.Connector, walkErr, "permission: %s", c.Root)
		}
		return nil, errs.Wrap(errs.Connector, walkErr, "transient: listing %s", c.Root)
	}
	return newSliceIterator(matches), nil
}

// Open returns a handle on the file backing res. Callers must Close it on
// every exit path.
func (c *FSConnector) Open(ctx context.Context, res resource.Descriptor) (io.ReadCloser, error) {
	path, err := uriToPath(res.URI)
	if err != nil {
		return nil, errs.Wrap(errs.Connector, err, "invalid_selector: %s", res.URI)
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.Connector, err, "not_found: %s", res.URI)
		}
		if os.IsPermission(err) {
			return nil, errs.Wrap(errs.Connector, err, "permission: %s", res.URI)
		}
		return nil, errs.Wrap(errs.Connector, err, "transient: opening %s", res.URI)
	}
	return f, nil
}

// Info restats the file backing res, refreshing SizeBytes and
// ETagOrHash.
func (c *FSConnector) Info(ctx context.Context, res resource.Descriptor) (resource.Descriptor, error) {
	path, err := uriToPath(res.URI)
	if err != nil {
		return resource.Descriptor{}, errs.Wrap(errs.Connector, err, "invalid_selector: %s", res.URI)
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return resource.Descriptor{}, errs.Wrap(errs.Connector, err, "not_found: %s", res.URI)
		}
		return resource.Descriptor{}, errs.Wrap(errs.Connector, err, "transient: stat %s", res.URI)
	}
	res.SizeBytes = info.Size()
	res.ModifiedAt = info.ModTime()
	res.ETagOrHash = fsETag(info)
	if res.Mime == "" {
		res.Mime = c.detectMime(path)
	}
	return res, nil
}

func (c *FSConnector) detectMime(path string) string {
	if c.MimeDetector != nil {
		return c.MimeDetector(path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".md":
		return "text/markdown"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "text/plain"
	}
}

func fsETag(info fs.FileInfo) string {
	return info.ModTime().UTC().Format("20060102T150405.000000000Z") + "-" + strconv.FormatInt(info.Size(), 10)
}

func uriToPath(uri string) (string, error) {
	const prefix = "file://"
	if !strings.HasPrefix(uri, prefix) {
		return "", errs.New(errs.Connector, "unsupported uri scheme: %s", uri)
	}
	return strings.TrimPrefix(uri, prefix), nil
}

func splitSelectors(selectors []string) (includes, excludes []string) {
	for _, s := range selectors {
		if strings.HasPrefix(s, "!") {
			excludes = append(excludes, strings.TrimPrefix(s, "!"))
			continue
		}
		includes = append(includes, s)
	}
	return includes, excludes
}

func matchesAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(p, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}
