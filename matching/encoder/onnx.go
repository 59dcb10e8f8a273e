// Package encoder provides local text embedding via ONNX Runtime, used for
// the semantic ranking paths when no precomputed embeddings are available.
package encoder

import (
	"fmt"
	"sync"

	tokenizer "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// Options configures a Model.
type Options struct {
	// ModelPath is the path to the exported .onnx transformer.
	ModelPath string
	// TokenizerPath is the path to the matching tokenizer.json.
	TokenizerPath string
	// SharedLibraryPath overrides the onnxruntime shared library location.
	// Empty uses whatever the process environment resolves.
	SharedLibraryPath string
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime(sharedLibraryPath string) error {
	ortInitOnce.Do(func() {
		if sharedLibraryPath != "" {
			ort.SetSharedLibraryPath(sharedLibraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// Model wraps one ONNX transformer session plus its tokenizer. Sentence
// embeddings are the [CLS] token of the last hidden state.
type Model struct {
	tok     *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
}

// Open loads the tokenizer and creates an inference session. Multiple models
// may be open in one process; the runtime environment is shared.
func Open(opts Options) (*Model, error) {
	if opts.ModelPath == "" || opts.TokenizerPath == "" {
		return nil, fmt.Errorf("encoder: model and tokenizer paths are required")
	}

	tok, err := pretrained.FromFile(opts.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("encoder: load tokenizer %s: %w", opts.TokenizerPath, err)
	}

	if err := initRuntime(opts.SharedLibraryPath); err != nil {
		return nil, fmt.Errorf("encoder: initialize onnxruntime: %w", err)
	}

	sessOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("encoder: session options: %w", err)
	}
	defer sessOpts.Destroy()

	if err := sessOpts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("encoder: set graph optimization: %w", err)
	}
	// 0 = use all available cores.
	if err := sessOpts.SetIntraOpNumThreads(0); err != nil {
		return nil, fmt.Errorf("encoder: set thread count: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		opts.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		sessOpts,
	)
	if err != nil {
		return nil, fmt.Errorf("encoder: create session for %s: %w", opts.ModelPath, err)
	}

	return &Model{tok: tok, session: session}, nil
}

// Embed returns the embedding vector for a single text.
func (m *Model) Embed(text string) ([]float32, error) {
	out, err := m.EmbedBatch([]string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in one inference call, padding to the longest
// sequence in the batch.
func (m *Model) EmbedBatch(texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	inputs := make([]tokenizer.EncodeInput, len(texts))
	for i, t := range texts {
		inputs[i] = tokenizer.NewSingleEncodeInput(tokenizer.NewInputSequence(t))
	}
	encodings, err := m.tok.EncodeBatch(inputs, true)
	if err != nil {
		return nil, fmt.Errorf("encoder: tokenize: %w", err)
	}

	maxLen := 0
	for _, enc := range encodings {
		if l := len(enc.GetIds()); l > maxLen {
			maxLen = l
		}
	}

	batchSize := len(encodings)
	inputIds := make([]int64, batchSize*maxLen)
	attentionMask := make([]int64, batchSize*maxLen)
	tokenTypeIds := make([]int64, batchSize*maxLen)

	for i, enc := range encodings {
		ids := enc.GetIds()
		mask := enc.GetAttentionMask()
		offset := i * maxLen
		for j := 0; j < len(ids); j++ {
			inputIds[offset+j] = int64(ids[j])
			attentionMask[offset+j] = int64(mask[j])
		}
	}

	shape := ort.NewShape(int64(batchSize), int64(maxLen))

	inputIdsTensor, err := ort.NewTensor(shape, inputIds)
	if err != nil {
		return nil, fmt.Errorf("encoder: input_ids tensor: %w", err)
	}
	defer inputIdsTensor.Destroy()

	attentionMaskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("encoder: attention_mask tensor: %w", err)
	}
	defer attentionMaskTensor.Destroy()

	tokenTypeIdsTensor, err := ort.NewTensor(shape, tokenTypeIds)
	if err != nil {
		return nil, fmt.Errorf("encoder: token_type_ids tensor: %w", err)
	}
	defer tokenTypeIdsTensor.Destroy()

	outputs := make([]ort.Value, 1)
	err = m.session.Run(
		[]ort.Value{inputIdsTensor, attentionMaskTensor, tokenTypeIdsTensor},
		outputs,
	)
	if err != nil {
		return nil, fmt.Errorf("encoder: inference: %w", err)
	}
	defer outputs[0].Destroy()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("encoder: output tensor is not float32")
	}

	// Output shape: [batch, sequence, hidden].
	outputShape := outputTensor.GetShape()
	seqLen := outputShape[1]
	hiddenDim := outputShape[2]
	data := outputTensor.GetData()

	// Copy out the [CLS] vectors before the tensor is destroyed.
	embeddings := make([][]float32, batchSize)
	for i := 0; i < batchSize; i++ {
		start := int64(i) * seqLen * hiddenDim
		vec := make([]float32, hiddenDim)
		copy(vec, data[start:start+hiddenDim])
		embeddings[i] = vec
	}
	return embeddings, nil
}

// Close releases the session. The shared runtime environment stays up for
// any other open models.
func (m *Model) Close() error {
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	return nil
}
