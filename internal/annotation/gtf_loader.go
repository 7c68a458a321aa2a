package annotation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// GTFLoader loads transcript models from GENCODE/Ensembl GTF files.
type GTFLoader struct {
	path     string
	biotypes map[string]bool
}

// NewGTFLoader creates a new GTF loader.
func NewGTFLoader(path string) *GTFLoader {
	return &GTFLoader{path: path}
}

// SetBiotypes restricts loading to transcripts of the given biotypes.
// An empty list loads every biotype.
func (l *GTFLoader) SetBiotypes(biotypes []string) {
	if len(biotypes) == 0 {
		l.biotypes = nil
		return
	}
	l.biotypes = make(map[string]bool, len(biotypes))
	for _, b := range biotypes {
		l.biotypes[b] = true
	}
}

// Load loads all transcripts from the GTF file into the annotation.
func (l *GTFLoader) Load(a *Annotation) error {
	return l.loadGTF(a, "")
}

// LoadChromosome loads transcripts for a specific chromosome.
func (l *GTFLoader) LoadChromosome(a *Annotation, chrom string) error {
	return l.loadGTF(a, chrom)
}

// loadGTF parses the GTF file and populates the annotation.
// If filterChrom is non-empty, only loads that chromosome.
func (l *GTFLoader) loadGTF(a *Annotation, filterChrom string) error {
	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("open GTF file: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f

	// Handle gzipped files
	if strings.HasSuffix(l.path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	transcripts, order, err := l.parseGTF(reader, filterChrom)
	if err != nil {
		return err
	}

	for _, id := range order {
		a.AddTranscript(transcripts[id])
	}
	return nil
}

// gtfFeature represents a parsed GTF line.
type gtfFeature struct {
	chrom       string
	source      string
	featureType string
	start       int64
	end         int64
	strand      string
	attributes  map[string]string
}

// parseGTF parses GTF content and returns transcripts keyed by ID together
// with their first-seen order. Transcripts without exons are dropped.
func (l *GTFLoader) parseGTF(reader io.Reader, filterChrom string) (map[string]*Transcript, []string, error) {
	scanner := bufio.NewScanner(reader)
	// Increase buffer size for long lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	transcripts := make(map[string]*Transcript)
	var order []string
	exonsByTranscript := make(map[string][]Exon)

	ensure := func(id string, feat *gtfFeature) *Transcript {
		if t, ok := transcripts[id]; ok {
			return t
		}
		t := &Transcript{
			ID:       id,
			GeneID:   stripVersion(feat.attributes["gene_id"]),
			GeneName: feat.attributes["gene_name"],
			Chrom:    feat.chrom,
			Start:    feat.start,
			End:      feat.end,
			Strand:   parseStrand(feat.strand),
			Biotype:  biotypeOf(feat.attributes),
		}
		transcripts[id] = t
		order = append(order, id)
		return t
	}

	for scanner.Scan() {
		line := scanner.Text()

		// Skip comments and empty lines
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}

		feat, err := l.parseLine(line)
		if err != nil {
			continue // Skip malformed lines
		}

		if filterChrom != "" && feat.chrom != NormalizeChrom(filterChrom) {
			continue
		}

		transcriptID := feat.attributes["transcript_id"]
		if transcriptID == "" {
			continue
		}
		transcriptID = stripVersion(transcriptID)

		switch feat.featureType {
		case "transcript":
			t := ensure(transcriptID, feat)
			t.Start, t.End = feat.start, feat.end
		case "exon":
			ensure(transcriptID, feat)
			exonNum, _ := strconv.Atoi(feat.attributes["exon_number"])
			exonsByTranscript[transcriptID] = append(exonsByTranscript[transcriptID], Exon{
				Number: exonNum,
				Start:  feat.start,
				End:    feat.end,
			})
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan GTF: %w", err)
	}

	kept := order[:0]
	for _, id := range order {
		t := transcripts[id]
		exons := exonsByTranscript[id]
		if len(exons) == 0 || (l.biotypes != nil && !l.biotypes[t.Biotype]) {
			delete(transcripts, id)
			continue
		}
		t.Exons = exons
		t.SortExons()
		kept = append(kept, id)
	}

	return transcripts, kept, nil
}

// parseLine parses a single GTF line.
func (l *GTFLoader) parseLine(line string) (*gtfFeature, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 9 {
		return nil, fmt.Errorf("invalid GTF line: expected 9 fields, got %d", len(fields))
	}

	start, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse start: %w", err)
	}

	end, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse end: %w", err)
	}

	return &gtfFeature{
		chrom:       NormalizeChrom(fields[0]),
		source:      fields[1],
		featureType: fields[2],
		start:       start,
		end:         end,
		strand:      fields[6],
		attributes:  parseAttributes(fields[8]),
	}, nil
}

// parseAttributes parses GTF attribute column.
// Format: key "value"; key "value"; ...
func parseAttributes(attrStr string) map[string]string {
	attrs := make(map[string]string)

	for _, part := range strings.Split(attrStr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Find the first space to separate key from value
		idx := strings.Index(part, " ")
		if idx == -1 {
			continue
		}

		key := part[:idx]
		value := strings.Trim(strings.TrimSpace(part[idx+1:]), "\"")
		attrs[key] = value
	}

	return attrs
}

// biotypeOf returns the GENCODE transcript_type or the Ensembl transcript_biotype.
func biotypeOf(attrs map[string]string) string {
	if b := attrs["transcript_type"]; b != "" {
		return b
	}
	return attrs["transcript_biotype"]
}

// parseStrand converts strand string to int8.
func parseStrand(s string) int8 {
	if s == "-" {
		return -1
	}
	return 1
}

// stripVersion removes the version suffix from an Ensembl ID.
// e.g., "ENST00000456328.2" -> "ENST00000456328"
func stripVersion(id string) string {
	if idx := strings.LastIndex(id, "."); idx != -1 {
		return id[:idx]
	}
	return id
}

// NormalizeChrom normalizes chromosome names by removing the "chr" prefix so
// annotation and alignment references compare equal.
func NormalizeChrom(chrom string) string {
	if strings.HasPrefix(chrom, "chr") {
		return chrom[3:]
	}
	return chrom
}
