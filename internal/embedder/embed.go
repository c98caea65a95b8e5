package embedder

import (
	"context"
	"fmt"

	"clipd/internal/runtime"
)

// snapshot is what an embedding call needs from the loaded state.
type snapshot struct {
	sess    runtime.Session
	tok     runtime.Tokenizer
	inputs  map[string]bool
	outputs []string
}

func (e *Embedder) loaded() (snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateReady || e.sess == nil {
		return snapshot{}, notReadyError{state: e.state}
	}
	return snapshot{sess: e.sess, tok: e.tok, inputs: e.inputs, outputs: e.outputs}, nil
}

// EmbedImage returns the embedding of one image.
func (e *Embedder) EmbedImage(ctx context.Context, in ImageInput) ([]float32, error) {
	vs, err := e.EmbedImages(ctx, []ImageInput{in})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

// EmbedImages returns one embedding per image, in input order. An empty
// batch yields an empty result once the model is ready.
func (e *Embedder) EmbedImages(ctx context.Context, items []ImageInput) (vecs [][]float32, err error) {
	defer func() { e.observe("image", len(vecs), err) }()
	s, err := e.loaded()
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return [][]float32{}, nil
	}
	if !s.inputs[inputPixelValues] {
		return nil, unsupportedError{msg: "model has no pixel_values input"}
	}
	px, err := pixelTensor(items, e.cfg.ImageSize)
	if err != nil {
		return nil, err
	}
	all := map[string]runtime.Tensor{inputPixelValues: px}
	if s.inputs[inputIDs] {
		ids, mask := dummyText(s.tok, len(items))
		all[inputIDs] = ids
		all[inputAttentionMask] = mask
	}
	out, err := e.run(ctx, s, all)
	if err != nil {
		return nil, err
	}
	vecs, err = pickOutput("image", imageTiers, s.outputs, out, len(items), e.log)
	if err != nil {
		return nil, err
	}
	e.imagesTotal.Add(uint64(len(vecs)))
	return vecs, nil
}

// EmbedText returns the embedding of one text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

// EmbedTexts returns one embedding per text, in input order. Models without
// an input_ids input, or without a tokenizer, report UnsupportedOperation.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) (vecs [][]float32, err error) {
	defer func() { e.observe("text", len(vecs), err) }()
	s, err := e.loaded()
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if !s.inputs[inputIDs] {
		return nil, unsupportedError{msg: "text embedding is not supported by this model (no input_ids input)"}
	}
	if s.tok == nil {
		return nil, unsupportedError{msg: "text embedding is not supported without a tokenizer"}
	}
	ids, mask := textTensors(s.tok, texts, 0)
	all := map[string]runtime.Tensor{inputIDs: ids, inputAttentionMask: mask}
	if s.inputs[inputPixelValues] {
		all[inputPixelValues] = zeroPixels(len(texts), e.cfg.ImageSize)
	}
	out, err := e.run(ctx, s, all)
	if err != nil {
		return nil, err
	}
	vecs, err = pickOutput("text", textTiers, s.outputs, out, len(texts), e.log)
	if err != nil {
		return nil, err
	}
	e.textsTotal.Add(uint64(len(vecs)))
	return vecs, nil
}

func (e *Embedder) run(ctx context.Context, s snapshot, all map[string]runtime.Tensor) (map[string]runtime.Tensor, error) {
	release, err := e.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	// Close may have run while queued.
	cur, err := e.loaded()
	if err != nil {
		return nil, err
	}
	out, err := cur.sess.Run(filterInputs(all, s.inputs))
	if err != nil {
		e.log.Error().Err(err).Msg("inference failed")
		return nil, fmt.Errorf("inference: %w", err)
	}
	return out, nil
}

func (e *Embedder) observe(modality string, n int, err error) {
	if err != nil {
		embedErrors.WithLabelValues(errorKind(err)).Inc()
		return
	}
	embedItems.WithLabelValues(modality).Add(float64(n))
}
