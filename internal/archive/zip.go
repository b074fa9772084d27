package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"

	"github.com/klauspost/compress/flate"
)

const (
	fileMode   fs.FileMode = 0o644
	folderMode             = fs.ModeDir | 0o755
)

// Serialize encodes the tree as a ZIP archive. It returns ErrEmpty when no
// file was added, so callers can skip writing a degenerate archive.
func (b *Builder) Serialize() ([]byte, error) {
	if b.files == 0 {
		return nil, ErrEmpty
	}

	if !ValidLevel(b.level) {
		return nil, fmt.Errorf("level %d: %w", b.level, ErrBadLevel)
	}

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, b.level)
	})

	if err := b.writeFolder(zw, b.root, ""); err != nil {
		_ = zw.Close()

		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}

	return buf.Bytes(), nil
}

func (b *Builder) writeFolder(zw *zip.Writer, folder *node, prefix string) error {
	for _, child := range folder.children {
		name := prefix + child.name

		if child.folder {
			header := b.header(name+"/", folderMode, zip.Store)
			if _, err := zw.CreateHeader(header); err != nil {
				return fmt.Errorf("add folder %s: %w", name, err)
			}

			if err := b.writeFolder(zw, child, name+"/"); err != nil {
				return err
			}

			continue
		}

		w, err := zw.CreateHeader(b.header(name, fileMode, zip.Deflate))
		if err != nil {
			return fmt.Errorf("add file %s: %w", name, err)
		}

		if _, err = w.Write(child.content); err != nil {
			return fmt.Errorf("compress %s: %w", name, err)
		}
	}

	return nil
}

func (b *Builder) header(name string, mode fs.FileMode, method uint16) *zip.FileHeader {
	header := &zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: b.modified,
	}
	header.SetMode(mode)

	return header
}
