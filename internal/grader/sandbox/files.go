package sandbox

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
)

// fileSpec is one file shipped into or harvested out of a container.
type fileSpec struct {
	Name string
	Mode int64
	Data []byte
}

// makeArchive builds a tar stream rooted at dir so it can be extracted into
// "/" regardless of whether the working directory exists in the image yet.
func makeArchive(dir string, files []fileSpec) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	now := time.Now()
	dir = strings.Trim(dir, "/")
	if dir != "" {
		header := &tar.Header{
			Name:     dir + "/",
			Mode:     0o755,
			Typeflag: tar.TypeDir,
			ModTime:  now,
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxError, "write tar dir header")
		}
	}

	for _, file := range files {
		mode := file.Mode
		if mode == 0 {
			mode = 0o644
		}
		name := file.Name
		if dir != "" {
			name = path.Join(dir, name)
		}
		header := &tar.Header{
			Name:    name,
			Mode:    mode,
			Size:    int64(len(file.Data)),
			ModTime: now,
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxError, "write tar header")
		}
		if _, err := tw.Write(file.Data); err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxError, "write tar contents")
		}
	}

	if err := tw.Close(); err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxError, "close tar writer")
	}

	return bytes.NewReader(buf.Bytes()), nil
}

// extractArchive reads every regular file out of a container copy stream,
// dropping the leading path component docker prefixes onto directory copies.
func extractArchive(r io.Reader) ([]fileSpec, error) {
	tr := tar.NewReader(r)

	var files []fileSpec
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxError, "read tar")
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxError, "read tar contents")
		}
		name := path.Clean(header.Name)
		if i := strings.IndexByte(name, '/'); i >= 0 {
			name = name[i+1:]
		}
		if name == "" || name == "." {
			continue
		}
		files = append(files, fileSpec{
			Name: name,
			Mode: header.Mode & 0o777,
			Data: data,
		})
	}

	return files, nil
}
