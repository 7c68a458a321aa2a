package store

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/inodb/isodecon/internal/annotation"
)

// FileFingerprint holds stat-based identity for a file.
type FileFingerprint struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// StatFile creates a FileFingerprint from an on-disk file.
func StatFile(path string) (FileFingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileFingerprint{}, err
	}
	return FileFingerprint{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// AnnotationCache manages gob-serialized transcripts on disk:
//
//	{dir}/annotation.gob       (serialized transcripts)
//	{dir}/annotation.gob.meta  (source fingerprint and loader settings)
type AnnotationCache struct {
	dir string
}

// NewAnnotationCache creates an annotation cache in dir.
func NewAnnotationCache(dir string) *AnnotationCache {
	return &AnnotationCache{dir: dir}
}

func (ac *AnnotationCache) gobPath() string {
	return filepath.Join(ac.dir, "annotation.gob")
}

func (ac *AnnotationCache) metaPath() string {
	return filepath.Join(ac.dir, "annotation.gob.meta")
}

func metaLines(gtf FileFingerprint, biotypes []string) []struct{ key, val string } {
	return []struct{ key, val string }{
		{"gtf_path", gtf.Path},
		{"gtf_size", strconv.FormatInt(gtf.Size, 10)},
		{"gtf_modtime", gtf.ModTime.UTC().Format(time.RFC3339Nano)},
		{"biotypes", strings.Join(biotypes, ",")},
	}
}

// Valid checks whether the cached transcripts were parsed from the current
// GTF with the same biotype filter.
func (ac *AnnotationCache) Valid(gtf FileFingerprint, biotypes []string) bool {
	meta, err := ac.readMeta()
	if err != nil {
		return false
	}
	for _, c := range metaLines(gtf, biotypes) {
		if meta[c.key] != c.val {
			return false
		}
	}
	if _, err := os.Stat(ac.gobPath()); err != nil {
		return false
	}
	return true
}

// Load reads serialized transcripts from disk into a.
func (ac *AnnotationCache) Load(a *annotation.Annotation) error {
	f, err := os.Open(ac.gobPath())
	if err != nil {
		return fmt.Errorf("open annotation cache: %w", err)
	}
	defer f.Close()

	var data map[string][]*annotation.Transcript
	if err := gob.NewDecoder(f).Decode(&data); err != nil {
		return fmt.Errorf("decode annotation cache: %w", err)
	}
	for _, transcripts := range data {
		for _, t := range transcripts {
			a.AddTranscript(t)
		}
	}
	return nil
}

// Write serializes all transcripts of a to disk.
func (ac *AnnotationCache) Write(a *annotation.Annotation, gtf FileFingerprint, biotypes []string) error {
	if err := os.MkdirAll(ac.dir, 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	data := make(map[string][]*annotation.Transcript)
	for _, chrom := range a.Chromosomes() {
		data[chrom] = a.TranscriptsByChrom(chrom)
	}

	f, err := os.Create(ac.gobPath())
	if err != nil {
		return fmt.Errorf("create annotation cache: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(data); err != nil {
		f.Close()
		os.Remove(ac.gobPath())
		return fmt.Errorf("encode annotation cache: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close annotation cache: %w", err)
	}
	return ac.writeMeta(gtf, biotypes)
}

// Clear removes the cached files.
func (ac *AnnotationCache) Clear() {
	os.Remove(ac.gobPath())
	os.Remove(ac.metaPath())
}

func (ac *AnnotationCache) writeMeta(gtf FileFingerprint, biotypes []string) error {
	var lines []string
	for _, c := range metaLines(gtf, biotypes) {
		lines = append(lines, c.key+"="+c.val)
	}
	lines = append(lines, "created_at="+time.Now().UTC().Format(time.RFC3339), "")
	return os.WriteFile(ac.metaPath(), []byte(strings.Join(lines, "\n")), 0644)
}

func (ac *AnnotationCache) readMeta() (map[string]string, error) {
	data, err := os.ReadFile(ac.metaPath())
	if err != nil {
		return nil, err
	}
	meta := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			meta[k] = v
		}
	}
	return meta, nil
}
