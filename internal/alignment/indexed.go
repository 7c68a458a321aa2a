package alignment

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/bgzf/index"
	"github.com/biogo/hts/sam"
	"go.uber.org/multierr"

	"github.com/inodb/isodecon/internal/annotation"
)

// IndexPath returns the BAI file next to path: path+".bai" if present,
// else path with its .bam suffix replaced. It returns "" if neither exists.
func IndexPath(path string) string {
	cands := []string{path + ".bai"}
	if strings.HasSuffix(path, ".bam") {
		cands = append(cands, strings.TrimSuffix(path, ".bam")+".bai")
	}
	for _, c := range cands {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c
		}
	}
	return ""
}

// handle is one open BAM file positioned by region queries.
type handle struct {
	file *os.File
	r    *bam.Reader
}

func (h *handle) close() error {
	return multierr.Append(h.r.Close(), h.file.Close())
}

// IndexedBAM answers region queries from a coordinate-sorted BAM and its
// BAI index, holding only the records of the queried region in memory.
// Idle file handles are pooled; concurrent queries open more.
type IndexedBAM struct {
	path    string
	threads int
	filter  Filter
	bai     *bam.Index
	refs    map[string]*sam.Reference
	idle    chan *handle
}

// OpenIndexed opens the BAM at path with the index at baiPath. At most
// idle handles are kept open between queries.
func OpenIndexed(path, baiPath string, threads int, filter Filter, idle int) (_ *IndexedBAM, err error) {
	f, err := os.Open(baiPath)
	if err != nil {
		return nil, fmt.Errorf("open bam index: %w", err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	bai, err := bam.ReadIndex(f)
	if err != nil {
		return nil, fmt.Errorf("read bam index %s: %w", baiPath, err)
	}

	x := &IndexedBAM{
		path:    path,
		threads: threads,
		filter:  filter,
		bai:     bai,
		refs:    make(map[string]*sam.Reference),
		idle:    make(chan *handle, max(idle, 1)),
	}
	h, err := x.open()
	if err != nil {
		return nil, err
	}
	for _, ref := range h.r.Header().Refs() {
		x.refs[annotation.NormalizeChrom(ref.Name())] = ref
	}
	x.put(h)
	return x, nil
}

func (x *IndexedBAM) open() (*handle, error) {
	f, err := os.Open(x.path)
	if err != nil {
		return nil, fmt.Errorf("open alignment file: %w", err)
	}
	r, err := bam.NewReader(f, x.threads)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open bam reader: %w", err)
	}
	return &handle{file: f, r: r}, nil
}

func (x *IndexedBAM) get() (*handle, error) {
	select {
	case h := <-x.idle:
		return h, nil
	default:
		return x.open()
	}
}

func (x *IndexedBAM) put(h *handle) {
	select {
	case x.idle <- h:
	default:
		h.close()
	}
}

// Overlapping implements Source.
func (x *IndexedBAM) Overlapping(chrom string, start, end int64) ([]*Alignment, error) {
	ref, ok := x.refs[chrom]
	if !ok || x.bai == nil || end <= start {
		return nil, nil
	}
	chunks, err := x.bai.Chunks(ref, int(start), int(end))
	switch {
	case errors.Is(err, index.ErrNoReference), errors.Is(err, index.ErrInvalid):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("query %s:%d-%d: %w", chrom, start, end, err)
	}

	h, err := x.get()
	if err != nil {
		return nil, err
	}
	it, err := bam.NewIterator(h.r, chunks)
	if err != nil {
		h.close()
		return nil, fmt.Errorf("seek %s:%d-%d: %w", chrom, start, end, err)
	}
	var out []*Alignment
	for it.Next() {
		rec := it.Record()
		if !x.filter.Keep(rec) {
			continue
		}
		// Chunks cover whole bins; keep only true overlaps.
		a := FromRecord(rec)
		if a == nil || a.Start >= end || a.End <= start {
			continue
		}
		out = append(out, a)
	}
	if err := it.Close(); err != nil {
		h.close()
		return nil, fmt.Errorf("read %s:%d-%d: %w", chrom, start, end, err)
	}
	x.put(h)
	SortAlignments(out)
	return out, nil
}

// Close releases the pooled file handles.
func (x *IndexedBAM) Close() error {
	var err error
	for {
		select {
		case h := <-x.idle:
			err = multierr.Append(err, h.close())
		default:
			return err
		}
	}
}
