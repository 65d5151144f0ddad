// Package documents issues references for the legal documents generated
// for an SPV. Template rendering lives outside this module.
package documents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	id "capstack/pkg/domain"
)

type Kind string

const (
	KindOperatingAgreement    Kind = "operating_agreement"
	KindSubscriptionAgreement Kind = "subscription_agreement"
	KindPPM                   Kind = "ppm"
)

// Baseline are the documents generated when an SPV is created.
var Baseline = []Kind{KindOperatingAgreement, KindSubscriptionAgreement, KindPPM}

func (k Kind) IsValid() bool {
	switch k {
	case KindOperatingAgreement, KindSubscriptionAgreement, KindPPM:
		return true
	}
	return false
}

type DocumentRef struct {
	Ref         string    `json:"ref"`
	SPVID       id.SPVID  `json:"spv_id"`
	Kind        Kind      `json:"kind"`
	GeneratedAt time.Time `json:"generated_at"`
}

type Generator interface {
	Generate(ctx context.Context, spvID id.SPVID, kind Kind) (DocumentRef, error)
}

// Recorder hands out document references and keeps the latest one per
// SPV and kind.
type Recorder struct {
	mu     sync.RWMutex
	docs   map[id.SPVID]map[Kind]DocumentRef
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{
		docs:   make(map[id.SPVID]map[Kind]DocumentRef),
		logger: logger,
		now:    time.Now,
	}
}

func (r *Recorder) Generate(ctx context.Context, spvID id.SPVID, kind Kind) (DocumentRef, error) {
	if !kind.IsValid() {
		return DocumentRef{}, fmt.Errorf("unknown document kind %q", kind)
	}
	if err := ctx.Err(); err != nil {
		return DocumentRef{}, err
	}
	doc := DocumentRef{
		Ref:         "doc_" + uuid.NewString(),
		SPVID:       spvID,
		Kind:        kind,
		GeneratedAt: r.now().UTC(),
	}

	r.mu.Lock()
	byKind, ok := r.docs[spvID]
	if !ok {
		byKind = make(map[Kind]DocumentRef)
		r.docs[spvID] = byKind
	}
	byKind[kind] = doc
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.InfoContext(ctx, "document generated",
			"spv_id", spvID.String(),
			"kind", kind,
			"ref", doc.Ref,
		)
	}
	return doc, nil
}

// List returns the latest document of each kind for an SPV, ordered by kind.
func (r *Recorder) List(spvID id.SPVID) []DocumentRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DocumentRef, 0, len(r.docs[spvID]))
	for _, doc := range r.docs[spvID] {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
