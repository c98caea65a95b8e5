package embedder

import (
	"errors"
	"os"

	"clipd/internal/imageproc"
	"clipd/internal/runtime"
)

const (
	inputPixelValues   = "pixel_values"
	inputIDs           = "input_ids"
	inputAttentionMask = "attention_mask"
)

// readImage returns the encoded bytes of in.
func readImage(in ImageInput) ([]byte, error) {
	if in.Path == "" {
		if len(in.Data) == 0 {
			return nil, invalidInputError{msg: "empty image"}
		}
		return in.Data, nil
	}
	b, err := os.ReadFile(in.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, imageNotFoundError{path: in.Path}
		}
		return nil, invalidInputError{msg: "read image " + in.Path, err: err}
	}
	return b, nil
}

// pixelTensor decodes and preprocesses every image into one NCHW batch.
func pixelTensor(items []ImageInput, size int) (runtime.Tensor, error) {
	per := 3 * size * size
	flat := make([]float32, 0, len(items)*per)
	for _, in := range items {
		data, err := readImage(in)
		if err != nil {
			return runtime.Tensor{}, err
		}
		px, err := imageproc.PixelValues(data, size)
		switch {
		case imageproc.IsDecodeError(err):
			return runtime.Tensor{}, invalidInputError{msg: "invalid image", err: err}
		case imageproc.IsTooLarge(err):
			return runtime.Tensor{}, invalidInputError{msg: "image too large", err: err}
		case err != nil:
			return runtime.Tensor{}, err
		}
		flat = append(flat, px...)
	}
	return runtime.Tensor{Shape: imageproc.Shape(len(items), size), Float: flat}, nil
}

// zeroPixels is the placeholder image batch for text calls on a joint graph.
func zeroPixels(n, size int) runtime.Tensor {
	return runtime.Tensor{Shape: imageproc.Shape(n, size), Float: make([]float32, n*3*size*size)}
}

// textTensors tokenizes texts, truncates to the model limit and pads to
// padTo, or to the longest sequence when padTo is zero.
func textTensors(tok runtime.Tokenizer, texts []string, padTo int) (ids, mask runtime.Tensor) {
	maxLen := runtime.DefaultMaxTextLength
	var pad int64
	if tok != nil {
		if n := tok.MaxLength(); n > 0 {
			maxLen = n
		}
		pad = tok.PadID()
	}
	seqs := make([][]int64, len(texts))
	longest := 1
	for i, t := range texts {
		var s []int64
		if tok != nil {
			s = tok.Encode(t)
		}
		if len(s) == 0 {
			s = []int64{pad}
		}
		if len(s) > maxLen {
			s = s[:maxLen]
		}
		seqs[i] = s
		if len(s) > longest {
			longest = len(s)
		}
	}
	width := longest
	if padTo > 0 {
		width = min(padTo, maxLen)
	}
	idv := make([]int64, len(texts)*width)
	mv := make([]int64, len(texts)*width)
	for i, s := range seqs {
		row := i * width
		for j := 0; j < width; j++ {
			if j < len(s) {
				idv[row+j] = s[j]
				mv[row+j] = 1
			} else {
				idv[row+j] = pad
			}
		}
	}
	shape := []int64{int64(len(texts)), int64(width)}
	return runtime.Tensor{Shape: shape, Int: idv}, runtime.Tensor{Shape: append([]int64(nil), shape...), Int: mv}
}

// dummyText is the padded empty-text batch for image calls on a joint graph.
func dummyText(tok runtime.Tokenizer, n int) (ids, mask runtime.Tensor) {
	texts := make([]string, n)
	padTo := runtime.DefaultMaxTextLength
	if tok != nil && tok.MaxLength() > 0 {
		padTo = tok.MaxLength()
	}
	return textTensors(tok, texts, padTo)
}

// filterInputs keeps only the inputs the model declares.
func filterInputs(all map[string]runtime.Tensor, declared map[string]bool) map[string]runtime.Tensor {
	out := make(map[string]runtime.Tensor, len(all))
	for k, v := range all {
		if declared[k] {
			out[k] = v
		}
	}
	return out
}
