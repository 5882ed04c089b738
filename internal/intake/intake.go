// Package intake validates locally selected files before they are sent to
// the compliance service. Nothing here parses file contents; row and column
// checks belong to the service.
package intake

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/gabriel-vasile/mimetype"
)

// Default size ceilings.
const (
	DefaultBatchMaxBytes     int64 = 5 << 20
	DefaultReconcileMaxBytes int64 = 10 << 20
)

// Reason classifies why a file was rejected.
type Reason string

const (
	ReasonType   Reason = "type"
	ReasonSize   Reason = "size"
	ReasonPeriod Reason = "period"
	ReasonGSTIN  Reason = "gstin"
)

// Rejection is returned when a file fails validation. It is always a local,
// user-correctable problem.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("intake: %s rejected: %s", r.Reason, r.Message)
}

// UploadedFile describes a file on disk selected for upload.
type UploadedFile struct {
	Path        string
	Name        string
	Size        int64
	MediaType   string // sniffed from content
	Fingerprint string // xxhash64 of the content, hex encoded; set by Accept
}

// Open stats the file at path and sniffs its media type. The content is
// fingerprinted by Accept, once the size rule has passed.
func Open(path string) (*UploadedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("intake: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("intake: %s is a directory", path)
	}

	f := &UploadedFile{
		Path: path,
		Name: filepath.Base(path),
		Size: info.Size(),
	}
	if f.Size == 0 {
		return f, nil
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("intake: detect type of %s: %w", path, err)
	}
	f.MediaType = mt.String()
	return f, nil
}

// fingerprint hashes the first f.Size bytes of the file.
func fingerprint(f *UploadedFile) (string, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return "", fmt.Errorf("intake: open %s: %w", f.Path, err)
	}
	defer fh.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, io.LimitReader(fh, f.Size)); err != nil {
		return "", fmt.Errorf("intake: read %s: %w", f.Path, err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// Rules declares what a workflow accepts.
type Rules struct {
	Extensions    []string // lower-case, with leading dot
	MediaTypes    []string // accepted sniffed types; generic types always pass
	MaxBytes      int64
	RequirePeriod bool
}

// BatchRules accepts comma-separated vendor lists up to limit bytes.
func BatchRules(limit int64) Rules {
	if limit <= 0 {
		limit = DefaultBatchMaxBytes
	}
	return Rules{
		Extensions: []string{".csv"},
		MediaTypes: []string{"text/csv"},
		MaxBytes:   limit,
	}
}

// ReconcileRules accepts purchase registers in CSV or spreadsheet form and
// requires a return period.
func ReconcileRules(limit int64) Rules {
	if limit <= 0 {
		limit = DefaultReconcileMaxBytes
	}
	return Rules{
		Extensions: []string{".csv", ".xlsx", ".xls"},
		MediaTypes: []string{
			"text/csv",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"application/zip",
			"application/vnd.ms-excel",
			"application/x-ole-storage",
		},
		MaxBytes:      limit,
		RequirePeriod: true,
	}
}

// genericTypes carry no information about the format and are not held
// against a file whose extension is acceptable.
var genericTypes = map[string]bool{
	"":                         true,
	"application/octet-stream": true,
	"text/plain":               true,
}

var periodPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])\d{4}$`)

// ValidPeriod reports whether s is a MMYYYY return period.
func ValidPeriod(s string) bool {
	return periodPattern.MatchString(s)
}

// GSTINLength is the length of a GST identification number.
const GSTINLength = 15

// NormalizeGSTIN trims and upper-cases s and checks its length.
func NormalizeGSTIN(s string) (string, error) {
	g := strings.ToUpper(strings.TrimSpace(s))
	if len(g) != GSTINLength {
		return "", &Rejection{
			Reason:  ReasonGSTIN,
			Message: fmt.Sprintf("%q must be %d characters", s, GSTINLength),
		}
	}
	return g, nil
}

// Validate applies the rules in order: type, size, then period. The first
// failure is returned as a *Rejection.
func Validate(f *UploadedFile, rules Rules, period string) error {
	ext := strings.ToLower(filepath.Ext(f.Name))
	if !slices.Contains(rules.Extensions, ext) {
		return &Rejection{
			Reason:  ReasonType,
			Message: fmt.Sprintf("%s: only %s files are supported", f.Name, strings.Join(rules.Extensions, ", ")),
		}
	}
	mt, _, _ := strings.Cut(f.MediaType, ";")
	mt = strings.TrimSpace(mt)
	if len(rules.MediaTypes) > 0 && !genericTypes[mt] && !slices.Contains(rules.MediaTypes, mt) {
		return &Rejection{
			Reason:  ReasonType,
			Message: fmt.Sprintf("%s: content looks like %s, not %s", f.Name, mt, strings.TrimPrefix(ext, ".")),
		}
	}

	if f.Size == 0 {
		return &Rejection{Reason: ReasonSize, Message: fmt.Sprintf("%s is empty", f.Name)}
	}
	if rules.MaxBytes > 0 && f.Size > rules.MaxBytes {
		return &Rejection{
			Reason:  ReasonSize,
			Message: fmt.Sprintf("%s is %s, limit is %s", f.Name, humanBytes(f.Size), humanBytes(rules.MaxBytes)),
		}
	}

	if rules.RequirePeriod && !ValidPeriod(period) {
		return &Rejection{
			Reason:  ReasonPeriod,
			Message: fmt.Sprintf("return period %q must be MMYYYY (e.g. 102025)", period),
		}
	}
	return nil
}

// Payload is a file that passed validation. It can only be built by Accept,
// so holding one proves the checks ran.
type Payload struct {
	file   UploadedFile
	period string
}

// Accept validates f and, on success, returns the payload for the next
// submission. Files read from disk are fingerprinted here.
func Accept(f *UploadedFile, rules Rules, period string) (*Payload, error) {
	if f == nil {
		return nil, fmt.Errorf("intake: no file")
	}
	if err := Validate(f, rules, period); err != nil {
		return nil, err
	}
	if f.Path != "" && f.Fingerprint == "" {
		fp, err := fingerprint(f)
		if err != nil {
			return nil, err
		}
		f.Fingerprint = fp
	}
	p := &Payload{file: *f}
	if rules.RequirePeriod {
		p.period = period
	}
	return p, nil
}

// File returns the accepted file.
func (p *Payload) File() UploadedFile { return p.file }

// Period returns the accepted return period, empty for batch uploads.
func (p *Payload) Period() string { return p.period }

// Open opens the accepted file for reading. Reads fail with a *Rejection if
// the file no longer has the size it was validated at.
func (p *Payload) Open() (io.ReadCloser, error) {
	fh, err := os.Open(p.file.Path)
	if err != nil {
		return nil, fmt.Errorf("intake: open %s: %w", p.file.Path, err)
	}
	return &sizedReader{fh: fh, r: io.LimitReader(fh, p.file.Size+1), name: p.file.Name, size: p.file.Size}, nil
}

// sizedReader yields exactly size bytes or an error.
type sizedReader struct {
	fh   *os.File
	r    io.Reader
	name string
	size int64
	n    int64
}

func (s *sizedReader) Read(b []byte) (int, error) {
	n, err := s.r.Read(b)
	s.n += int64(n)
	if s.n > s.size {
		return 0, s.changed("grew")
	}
	if err == io.EOF && s.n < s.size {
		return n, s.changed("shrank")
	}
	return n, err
}

func (s *sizedReader) changed(how string) error {
	return &Rejection{
		Reason:  ReasonSize,
		Message: fmt.Sprintf("%s %s after it was validated, select it again", s.name, how),
	}
}

func (s *sizedReader) Close() error { return s.fh.Close() }

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
