package extract

import (
	"archive/zip"
	"bytes"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// zipMagic is the local file header signature that starts every zip archive.
var zipMagic = []byte("PK\x03\x04")

// openSource opens path for XML decoding. Zip archives are detected by their
// magic bytes and only the named member is returned; everything else is read
// as a plain XML document.
func openSource(path, member string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "extract: open source")
	}

	head := make([]byte, len(zipMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		f.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "extract: read header")
	}
	if n < len(zipMagic) || !bytes.Equal(head, zipMagic) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "extract: rewind source")
		}
		return f, nil
	}
	f.Close() //nolint:errcheck

	return openZIPMember(path, member)
}

// zipMember closes both the member stream and the archive.
type zipMember struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (m *zipMember) Close() error {
	err := m.ReadCloser.Close()
	if cerr := m.archive.Close(); err == nil {
		err = cerr
	}
	return err
}

// openZIPMember opens a single member of a zip archive by name. Other members
// are ignored.
func openZIPMember(path, member string) (io.ReadCloser, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, eris.Wrap(err, "extract: open archive")
	}

	for _, f := range r.File {
		if f.Name != member || f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			r.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "extract: open member %q", member)
		}
		return &zipMember{ReadCloser: rc, archive: r}, nil
	}

	r.Close() //nolint:errcheck
	return nil, eris.Errorf("extract: member %q not found in archive", member)
}
