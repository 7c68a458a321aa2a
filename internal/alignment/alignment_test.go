package alignment

import (
	"strings"
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlocksFromCigar(t *testing.T) {
	tests := []struct {
		name  string
		cigar sam.Cigar
		want  []Block
	}{
		{
			name:  "unspliced",
			cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 50)},
			want:  []Block{{100, 150}},
		},
		{
			name: "spliced with clips",
			cigar: sam.Cigar{
				sam.NewCigarOp(sam.CigarSoftClipped, 5),
				sam.NewCigarOp(sam.CigarMatch, 20),
				sam.NewCigarOp(sam.CigarSkipped, 300),
				sam.NewCigarOp(sam.CigarMatch, 25),
			},
			want: []Block{{100, 120}, {420, 445}},
		},
		{
			name: "deletion extends block, insertion does not",
			cigar: sam.Cigar{
				sam.NewCigarOp(sam.CigarMatch, 10),
				sam.NewCigarOp(sam.CigarDeletion, 2),
				sam.NewCigarOp(sam.CigarInsertion, 3),
				sam.NewCigarOp(sam.CigarMatch, 10),
			},
			want: []Block{{100, 122}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BlocksFromCigar(100, tt.cigar))
		})
	}
}

const samText = "@HD\tVN:1.6\tSO:coordinate\n" +
	"@SQ\tSN:chr1\tLN:100000\n" +
	"r1\t99\tchr1\t101\t60\t20M300N30M\t=\t601\t550\t*\t*\n" +
	"r1\t147\tchr1\t601\t60\t50M\t=\t101\t-550\t*\t*\n" +
	"r2\t4\t*\t0\t0\t*\t*\t0\t0\t*\t*\n" +
	"r3\t1040\tchr1\t201\t60\t50M\t*\t0\t0\t*\t*\n" +
	"r4\t256\tchr1\t201\t60\t50M\t*\t0\t0\t*\t*\n" +
	"r5\t0\tchr1\t5001\t3\t50M\t*\t0\t0\t*\t*\n"

func TestReaderFilters(t *testing.T) {
	r, err := NewSAMReader(strings.NewReader(samText), Filter{SkipDuplicates: true, MinMapQ: 10})
	require.NoError(t, err)
	defer r.Close()

	var got []*Alignment
	for {
		a, err := r.Next()
		require.NoError(t, err)
		if a == nil {
			break
		}
		got = append(got, a)
	}

	require.Len(t, got, 2, "unmapped, duplicate, secondary and low-mapq records are dropped")
	assert.Equal(t, 6, r.Records())
	assert.Equal(t, 4, r.Skipped())

	m1 := got[0]
	assert.Equal(t, "r1", m1.Name)
	assert.Equal(t, "1", m1.Chrom, "chr prefix normalized")
	assert.Equal(t, int8(1), m1.Strand)
	assert.True(t, m1.Paired)
	assert.True(t, m1.First)
	assert.True(t, m1.IsSpliced())
	assert.Equal(t, []Block{{100, 120}, {420, 450}}, m1.Blocks)
	assert.Equal(t, int64(50), m1.AlignedLength())
	assert.Equal(t, int64(600), m1.MateStart)

	m2 := got[1]
	assert.Equal(t, int8(-1), m2.Strand)
	assert.False(t, m2.First)
	assert.Equal(t, m1.Key(), m2.Key())
}

func TestIndexOverlapping(t *testing.T) {
	alns := []*Alignment{
		{Name: "b", Chrom: "1", Start: 100, End: 150, Blocks: []Block{{100, 150}}},
		{Name: "a", Chrom: "1", Start: 100, End: 150, Blocks: []Block{{100, 150}}},
		{Name: "c", Chrom: "1", Start: 400, End: 450, Blocks: []Block{{400, 450}}},
		{Name: "d", Chrom: "2", Start: 100, End: 150, Blocks: []Block{{100, 150}}},
	}
	idx, err := FromSlice(alns)
	require.NoError(t, err)
	assert.Equal(t, 4, idx.Len())

	overlapping := func(chrom string, start, end int64) []*Alignment {
		got, err := idx.Overlapping(chrom, start, end)
		require.NoError(t, err)
		return got
	}
	got := overlapping("1", 0, 1000)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Name, "sorted by start then name")
	assert.Equal(t, "b", got[1].Name)

	assert.Len(t, overlapping("1", 149, 400), 2, "half-open bounds")
	assert.Empty(t, overlapping("1", 150, 400))
	assert.Empty(t, overlapping("3", 0, 1000))

	require.Error(t, idx.Add(alns[0]), "index is frozen after Finish")
}
