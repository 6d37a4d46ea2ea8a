package transcriber

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// ONNXEngine runs a Parakeet-family acoustic model via ONNX Runtime. It
// satisfies Engine. Construction is the one point in the process where a
// missing GPU is fatal (§7 "GPU unavailable | server startup | fatal").
type ONNXEngine struct {
	session *ort.DynamicAdvancedSession
}

// NewONNXEngine loads modelPath onto the given execution provider ("cuda"
// or "tensorrt"). The ONNX Runtime environment is initialized exactly
// once per process, mirroring the sync.Once guard used elsewhere in the
// retrieval pack for this same library.
func NewONNXEngine(modelPath, provider string) (*ONNXEngine, error) {
	ortInitOnce.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB_PATH"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("onnx: initialize environment: %w", ortInitErr)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: session options: %w", err)
	}
	defer opts.Destroy()

	switch provider {
	case "cuda":
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("onnx: GPU unavailable: cuda provider: %w", err)
		}
		defer cudaOpts.Destroy()
		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return nil, fmt.Errorf("onnx: GPU unavailable: append cuda: %w", err)
		}
	case "tensorrt":
		trtOpts, err := ort.NewTensorRTProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("onnx: GPU unavailable: tensorrt provider: %w", err)
		}
		defer trtOpts.Destroy()
		if err := opts.AppendExecutionProviderTensorRT(trtOpts); err != nil {
			return nil, fmt.Errorf("onnx: GPU unavailable: append tensorrt: %w", err)
		}
	default:
		return nil, fmt.Errorf("onnx: unknown provider %q", provider)
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"audio_signal", "length"},
		[]string{"logits"},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: model load failure: %w", err)
	}

	return &ONNXEngine{session: session}, nil
}

// Infer runs the model over mono float32 PCM and passes the resulting
// logits to decodeGreedy, which maps no logits to text: the returned text
// is always empty. Confidence is a fixed 1.0, per the open design
// question on the transcriber's lack of a real confidence score.
func (e *ONNXEngine) Infer(_ context.Context, pcm []float32, sampleRate int) (string, float64, error) {
	inputShape := ort.NewShape(1, int64(len(pcm)))
	audioTensor, err := ort.NewTensor(inputShape, pcm)
	if err != nil {
		return "", 0, fmt.Errorf("onnx: audio tensor: %w", err)
	}
	defer audioTensor.Destroy()

	lengthTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(len(pcm))})
	if err != nil {
		return "", 0, fmt.Errorf("onnx: length tensor: %w", err)
	}
	defer lengthTensor.Destroy()

	outputShape := ort.NewShape(1, int64(len(pcm)), int64(vocabSize))
	logits, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return "", 0, fmt.Errorf("onnx: output tensor: %w", err)
	}
	defer logits.Destroy()

	if err := e.session.Run(
		[]ort.Value{audioTensor, lengthTensor},
		[]ort.Value{logits},
	); err != nil {
		return "", 0, fmt.Errorf("onnx: run: %w", err)
	}

	return decodeGreedy(logits.GetData(), vocabSize), confidenceConstant, nil
}

// Close releases the underlying ONNX Runtime session.
func (e *ONNXEngine) Close() error {
	if e.session == nil {
		return nil
	}
	e.session.Destroy()
	e.session = nil
	return nil
}

// confidenceConstant is the fixed confidence value the model currently
// reports. See SPEC_FULL.md §9 for why this is kept as a literal rather
// than computed.
const confidenceConstant = 1.0

// vocabSize is the Parakeet tokenizer's output vocabulary size. Decoding
// from logits to text (CTC/RNNT greedy search and subword detokenization)
// is model-specific and belongs in decodeGreedy; decodeGreedy performs no
// such decoding and returns an empty string.
const vocabSize = 1024

func decodeGreedy(logits []float32, vocab int) string {
	if vocab == 0 || len(logits) == 0 {
		return ""
	}
	// No tokenizer vocabulary is loaded, so no argmax or blank-collapse
	// decode is done: every input yields an empty string.
	return ""
}
