package publish

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
)

// extractReadme locates the crate's README source. meta.Readme, when
// present, is the content the client already read off disk; otherwise
// the archive is searched for meta.ReadmeFile, or failing that, the
// least deeply nested file named README.md (case-insensitive). Returns
// (nil, "") if none is found and none was declared.
func extractReadme(archive []byte, meta Metadata) (source []byte, notFound string, err error) {
	if meta.Readme != "" {
		return []byte(meta.Readme), "", nil
	}

	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, "", fmt.Errorf("publish: open archive: %w", err)
	}
	defer gz.Close()

	want := meta.ReadmeFile
	tr := tar.NewReader(gz)
	var best []byte
	var bestDepth = -1
Find:
	for {
		h, err := tr.Next()
		switch err {
		case nil:
		case io.EOF:
			break Find
		default:
			return nil, "", fmt.Errorf("publish: read archive: %w", err)
		}
		if h.Typeflag != tar.TypeReg {
			continue
		}
		// Archives are conventionally "{name}-{vers}/...".
		rel := h.Name
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			rel = rel[i+1:]
		}
		if want != "" {
			if rel == want {
				b, err := io.ReadAll(tr)
				if err != nil {
					return nil, "", fmt.Errorf("publish: read %s: %w", want, err)
				}
				return b, "", nil
			}
			continue
		}
		if !strings.EqualFold(filepath.Base(rel), "README.md") {
			continue
		}
		depth := strings.Count(rel, "/")
		if bestDepth == -1 || depth < bestDepth {
			b, err := io.ReadAll(tr)
			if err != nil {
				return nil, "", fmt.Errorf("publish: read %s: %w", rel, err)
			}
			best, bestDepth = b, depth
		}
	}
	if want != "" {
		return nil, fmt.Sprintf("readme_file %q not found in archive", want), nil
	}
	return best, "", nil
}

// renderReadme converts Markdown source to HTML via the configured
// rendering collaborator.
func renderReadme(source []byte) ([]byte, error) {
	if len(source) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := goldmark.Convert(source, &buf); err != nil {
		return nil, fmt.Errorf("publish: render readme: %w", err)
	}
	return buf.Bytes(), nil
}
