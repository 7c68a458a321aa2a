package locus

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/isodecon/internal/alignment"
	"github.com/inodb/isodecon/internal/annotation"
	"github.com/inodb/isodecon/internal/splicegraph"
)

func TestLearn(t *testing.T) {
	loci, src := genome(t)

	learn := func(workers int) *Learned {
		l, err := Learn(context.Background(), loci, src, LearnOptions{Workers: workers}, nil)
		require.NoError(t, err)
		return l
	}
	l := learn(1)

	assert.Equal(t, int64(readLen), l.ReadLength)
	assert.Equal(t, 6, l.Loci)
	// 1+2+...+6 reads on the single-transcript loci.
	assert.Equal(t, 21, l.Reads)
	require.NoError(t, l.Profile.Validate())
	assert.Equal(t, splicegraph.InsertWindow{}, l.Insert)

	// Reads sit at the 5' end, so the first cell outweighs the last.
	bin := l.Profile.Bins[l.Profile.BinIndex(1200)]
	assert.Greater(t, bin.Sense[0], bin.Sense[len(bin.Sense)-1])

	assert.Equal(t, l.Profile.Bins, learn(4).Profile.Bins)
}

func TestLearnPairedInsertWindow(t *testing.T) {
	tr := tx("T1", "1", [2]int64{1001, 2000}, [2]int64{3001, 4000})
	loc := annotation.NewLocus([]*annotation.Transcript{tr})
	var alns []*alignment.Alignment
	for i := 0; i < 200; i++ {
		off := int64(i * 5)
		frag := int64(200 + i%100)
		a := readAt(t, tr, fmt.Sprintf("p%d", i), 1, off)
		b := readAt(t, tr, fmt.Sprintf("p%d", i), -1, off+frag-readLen)
		a.Paired, a.First = true, true
		b.Paired = true
		alns = append(alns, a, b)
	}
	src, err := alignment.FromSlice(alns)
	require.NoError(t, err)

	l, err := Learn(context.Background(), []*annotation.Locus{loc}, src,
		LearnOptions{ReadLength: readLen, Paired: true, Workers: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 400, l.Reads)
	assert.GreaterOrEqual(t, l.Insert.Min, int64(200))
	assert.LessOrEqual(t, l.Insert.Max, int64(299))
	assert.Less(t, l.Insert.Min, l.Insert.Max)
}

func TestLearnWithoutReads(t *testing.T) {
	loc, _ := sharedExon(t, "1")
	src, err := alignment.FromSlice(nil)
	require.NoError(t, err)
	_, err = Learn(context.Background(), []*annotation.Locus{loc}, src, LearnOptions{}, nil)
	assert.Error(t, err)
}
