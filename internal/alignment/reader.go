package alignment

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
)

// Filter selects which records a Reader yields.
type Filter struct {
	SkipDuplicates bool // Drop records flagged as PCR/optical duplicates
	MinMapQ        byte // Minimum mapping quality
}

// recordReader is satisfied by both bam.Reader and sam.Reader.
type recordReader interface {
	Read() (*sam.Record, error)
}

// Reader reads alignments from a BAM or SAM file.
type Reader struct {
	file    *os.File
	bam     *bam.Reader
	records recordReader
	filter  Filter
	count   int
	skipped int
}

// NewReader opens a BAM (by magic bytes) or SAM file. Use "-" for SAM on stdin.
func NewReader(path string, threads int, filter Filter) (*Reader, error) {
	if path == "-" {
		return NewSAMReader(os.Stdin, filter)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open alignment file: %w", err)
	}

	br := bufio.NewReader(file)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		file.Close()
		return nil, fmt.Errorf("read alignment header: %w", err)
	}

	r := &Reader{file: file, filter: filter}
	// BGZF (gzip) magic number 0x1f 0x8b marks BAM.
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		r.bam, err = bam.NewReader(br, threads)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("open bam reader: %w", err)
		}
		r.records = r.bam
		return r, nil
	}

	sr, err := sam.NewReader(br)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("open sam reader: %w", err)
	}
	r.records = sr
	return r, nil
}

// NewSAMReader reads SAM text from an io.Reader.
func NewSAMReader(in io.Reader, filter Filter) (*Reader, error) {
	sr, err := sam.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("open sam reader: %w", err)
	}
	return &Reader{records: sr, filter: filter}, nil
}

// Next returns the next alignment passing the filter.
// Returns nil, nil when there are no more alignments.
func (r *Reader) Next() (*Alignment, error) {
	for {
		rec, err := r.records.Read()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", r.count+1, err)
		}
		r.count++
		if !r.filter.Keep(rec) {
			r.skipped++
			continue
		}
		a := FromRecord(rec)
		if a == nil {
			r.skipped++
			continue
		}
		return a, nil
	}
}

// Keep reports whether rec passes the filter. Unmapped, secondary,
// supplementary and QC-failed records never do.
func (f Filter) Keep(rec *sam.Record) bool {
	const dropped = sam.Unmapped | sam.Secondary | sam.Supplementary | sam.QCFail
	if rec.Flags&dropped != 0 {
		return false
	}
	if f.SkipDuplicates && rec.Flags&sam.Duplicate != 0 {
		return false
	}
	return rec.MapQ >= f.MinMapQ
}

// Records returns the number of records read so far.
func (r *Reader) Records() int {
	return r.count
}

// Skipped returns the number of records rejected by the filter.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.bam != nil {
		r.bam.Close()
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
