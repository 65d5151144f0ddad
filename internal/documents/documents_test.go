package documents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "capstack/pkg/domain"
)

func TestRecorderKeepsLatestPerKind(t *testing.T) {
	r := NewRecorder(nil)
	spvID := id.NewSPVID()

	for _, kind := range Baseline {
		_, err := r.Generate(context.Background(), spvID, kind)
		require.NoError(t, err)
	}
	again, err := r.Generate(context.Background(), spvID, KindPPM)
	require.NoError(t, err)

	docs := r.List(spvID)
	require.Len(t, docs, 3)
	assert.Equal(t, KindOperatingAgreement, docs[0].Kind)
	assert.Equal(t, KindPPM, docs[1].Kind)
	assert.Equal(t, again.Ref, docs[1].Ref)
	assert.Empty(t, r.List(id.NewSPVID()))
}

func TestRecorderRejectsUnknownKind(t *testing.T) {
	_, err := NewRecorder(nil).Generate(context.Background(), id.NewSPVID(), Kind("term_sheet"))
	assert.Error(t, err)
}
