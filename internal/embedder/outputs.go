package embedder

import (
	"fmt"

	"github.com/rs/zerolog"

	"clipd/internal/runtime"
)

// outputTier is one acceptable output name, tried in order.
type outputTier struct {
	name string
	// cls takes row 0 of a [n, seq, d] tensor.
	cls bool
	// soleOnly accepts the tier only when the model has exactly one output.
	soleOnly bool
	warn     string
}

var (
	imageTiers = []outputTier{
		{name: "image_embeds"},
		{name: "last_hidden_state", cls: true, soleOnly: true,
			warn: "image_embeds missing; using CLS row of last_hidden_state, which may not be a projected CLIP embedding"},
	}
	textTiers = []outputTier{
		{name: "text_embeds"},
		{name: "pooler_output", warn: "text_embeds missing; using pooler_output"},
		{name: "last_hidden_state", cls: true, warn: "text_embeds and pooler_output missing; using CLS row of last_hidden_state"},
	}
)

// pickOutput returns n vectors from the first tier present in out.
func pickOutput(modality string, tiers []outputTier, names []string, out map[string]runtime.Tensor, n int, log zerolog.Logger) ([][]float32, error) {
	for _, tier := range tiers {
		t, ok := out[tier.name]
		if !ok || (tier.soleOnly && len(names) != 1) {
			continue
		}
		if tier.warn != "" {
			log.Warn().Str("output", tier.name).Msg(tier.warn)
		}
		if tier.cls {
			return clsRows(t, n)
		}
		return rows(t, n)
	}
	log.Error().Strs("outputs", names).Str("modality", modality).Msg("no usable embedding output")
	return nil, noUsableOutputError{modality: modality, available: names}
}

func rows(t runtime.Tensor, n int) ([][]float32, error) {
	if len(t.Shape) != 2 || t.Shape[0] != int64(n) {
		return nil, fmt.Errorf("unexpected embedding shape %v for batch of %d", t.Shape, n)
	}
	d := int(t.Shape[1])
	if len(t.Float) != n*d {
		return nil, fmt.Errorf("embedding has %d values, want %d", len(t.Float), n*d)
	}
	res := make([][]float32, n)
	for i := range res {
		res[i] = append([]float32(nil), t.Float[i*d:(i+1)*d]...)
	}
	return res, nil
}

func clsRows(t runtime.Tensor, n int) ([][]float32, error) {
	if len(t.Shape) != 3 || t.Shape[0] != int64(n) {
		return nil, fmt.Errorf("unexpected hidden state shape %v for batch of %d", t.Shape, n)
	}
	seq, d := int(t.Shape[1]), int(t.Shape[2])
	if len(t.Float) != n*seq*d {
		return nil, fmt.Errorf("hidden state has %d values, want %d", len(t.Float), n*seq*d)
	}
	res := make([][]float32, n)
	for i := range res {
		off := i * seq * d
		res[i] = append([]float32(nil), t.Float[off:off+d]...)
	}
	return res, nil
}
