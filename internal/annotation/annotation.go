package annotation

import "sort"

// Annotation holds transcripts indexed by chromosome.
type Annotation struct {
	// transcripts stores transcripts indexed by chromosome
	transcripts map[string][]*Transcript
	loci        []*Locus
}

// New creates a new empty annotation.
func New() *Annotation {
	return &Annotation{
		transcripts: make(map[string][]*Transcript),
	}
}

// AddTranscript adds a transcript to the annotation.
func (a *Annotation) AddTranscript(t *Transcript) {
	chrom := t.Chrom
	a.transcripts[chrom] = append(a.transcripts[chrom], t)
	a.loci = nil
}

// GetTranscript returns a specific transcript by ID, or nil if not found.
func (a *Annotation) GetTranscript(id string) *Transcript {
	for _, transcripts := range a.transcripts {
		for _, t := range transcripts {
			if t.ID == id {
				return t
			}
		}
	}
	return nil
}

// TranscriptCount returns the total number of transcripts.
func (a *Annotation) TranscriptCount() int {
	count := 0
	for _, transcripts := range a.transcripts {
		count += len(transcripts)
	}
	return count
}

// Chromosomes returns a sorted list of chromosomes.
func (a *Annotation) Chromosomes() []string {
	chroms := make([]string, 0, len(a.transcripts))
	for chrom := range a.transcripts {
		chroms = append(chroms, chrom)
	}
	sort.Strings(chroms)
	return chroms
}

// TranscriptsByChrom returns all transcripts for a chromosome.
func (a *Annotation) TranscriptsByChrom(chrom string) []*Transcript {
	return a.transcripts[chrom]
}

// Loci groups the transcripts into loci. The grouping is computed once and
// reused until another transcript is added.
func (a *Annotation) Loci() []*Locus {
	if a.loci != nil {
		return a.loci
	}
	var all []*Transcript
	for _, chrom := range a.Chromosomes() {
		all = append(all, a.transcripts[chrom]...)
	}
	a.loci = GroupLoci(all)
	return a.loci
}

// FromLoci builds an annotation whose grouping is exactly the given loci.
func FromLoci(loci []*Locus) *Annotation {
	a := New()
	for _, l := range loci {
		for _, t := range l.Transcripts {
			a.transcripts[t.Chrom] = append(a.transcripts[t.Chrom], t)
		}
	}
	a.loci = loci
	return a
}
