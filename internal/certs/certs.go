// Package certs unpacks the certificate bundle of a completed batch job.
//
// The bundle is a ZIP with results.csv, summary.txt and one PDF per vendor
// under certificates/. Every PDF is opened with pdfcpu so a truncated or
// corrupt certificate is reported instead of silently saved.
package certs

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// maxEntryBytes caps a single extracted file.
const maxEntryBytes = 50 << 20

// Certificate is one extracted PDF.
type Certificate struct {
	Name  string // file name within certificates/
	Path  string // extracted location
	Pages int
	Err   string // set when the PDF could not be read
}

// Valid reports whether the PDF was readable.
func (c Certificate) Valid() bool { return c.Err == "" }

// Bundle is an extracted download.
type Bundle struct {
	Dir          string
	ResultsPath  string // empty when the bundle had no results.csv
	SummaryPath  string
	Certificates []Certificate
	Skipped      []string // entries refused for unsafe paths
}

// Corrupt returns the certificates that failed to parse.
func (b *Bundle) Corrupt() []Certificate {
	var out []Certificate
	for _, c := range b.Certificates {
		if !c.Valid() {
			out = append(out, c)
		}
	}
	return out
}

// Extract writes the ZIP in data under dir and checks every certificate.
func Extract(data []byte, dir string) (*Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("certs: open bundle: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("certs: create %s: %w", dir, err)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	b := &Bundle{Dir: dir}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name, ok := safeName(f.Name)
		if !ok {
			b.Skipped = append(b.Skipped, f.Name)
			continue
		}

		content, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("certs: read %s: %w", f.Name, err)
		}
		dst := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, fmt.Errorf("certs: create %s: %w", filepath.Dir(dst), err)
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return nil, fmt.Errorf("certs: write %s: %w", dst, err)
		}

		switch {
		case name == "results.csv":
			b.ResultsPath = dst
		case name == "summary.txt":
			b.SummaryPath = dst
		case strings.EqualFold(path.Ext(name), ".pdf"):
			cert := Certificate{Name: path.Base(name), Path: dst}
			pages, err := api.PageCount(bytes.NewReader(content), conf)
			if err != nil {
				cert.Err = err.Error()
			} else {
				cert.Pages = pages
			}
			b.Certificates = append(b.Certificates, cert)
		}
	}
	return b, nil
}

// safeName cleans a ZIP entry name and refuses anything that would land
// outside the extraction directory.
func safeName(name string) (string, bool) {
	name = strings.ReplaceAll(name, `\`, "/")
	clean := path.Clean(name)
	if clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	if filepath.VolumeName(clean) != "" {
		return "", false
	}
	return clean, true
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxEntryBytes {
		return nil, fmt.Errorf("entry exceeds %d bytes", maxEntryBytes)
	}
	return data, nil
}
