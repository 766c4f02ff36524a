package ner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/straja-ai/piiscope/internal/redact"
)

const (
	defaultIntraThreads = 1
	defaultInterThreads = 1
	defaultMaxTokens    = 256
)

// ONNXConfig locates a token-classification model bundle:
//
//	<bundle_dir>/model.onnx (or model.int8.onnx)
//	<bundle_dir>/config.json   (id2label, type_vocab_size)
//	<bundle_dir>/vocab.txt     (or tokenizer/vocab.txt)
type ONNXConfig struct {
	BundleDir    string `yaml:"bundle_dir"`
	MaxTokens    int    `yaml:"max_tokens"`
	PoolSize     int    `yaml:"pool_size"`
	IntraThreads int    `yaml:"intra_threads"`
	InterThreads int    `yaml:"inter_threads"`
	LowerCase    *bool  `yaml:"lower_case"`
	// LabelAliases renames model labels, e.g. PER -> PERSON.
	LabelAliases map[string]string `yaml:"label_aliases"`
	// Verify checks manifest.json hashes before loading. With PublicKey set
	// (base64 ed25519) manifest.sig must verify as well.
	Verify    bool   `yaml:"verify"`
	PublicKey string `yaml:"public_key"`
}

var defaultAliases = map[string]string{
	"PER": "PERSON",
}

// ONNXLabeler runs a token-classification model through onnxruntime.
type ONNXLabeler struct {
	modelPath string
	tokenizer *WordPieceTokenizer
	labels    []string
	numLabels int
	seqLen    int
	aliases   map[string]string
	sessions  chan *onnxSession
}

type onnxSession struct {
	session       *ort.AdvancedSession
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

// LoadONNXLabeler initializes onnxruntime, the tokenizer and a pool of
// sessions sized cfg.PoolSize.
func LoadONNXLabeler(cfg ONNXConfig) (*ONNXLabeler, error) {
	bundleDir := strings.TrimSpace(cfg.BundleDir)
	if bundleDir == "" {
		return nil, errors.New("ner onnx bundle_dir is empty")
	}
	seqLen := cfg.MaxTokens
	if seqLen <= 0 {
		seqLen = defaultMaxTokens
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	intraThr := cfg.IntraThreads
	if intraThr <= 0 {
		intraThr = defaultIntraThreads
	}
	interThr := cfg.InterThreads
	if interThr <= 0 {
		interThr = defaultInterThreads
	}

	if cfg.Verify || strings.TrimSpace(cfg.PublicKey) != "" {
		if _, err := VerifyBundle(bundleDir, cfg.PublicKey); err != nil {
			return nil, err
		}
	}

	modelPath := resolveModelPath(bundleDir)
	if modelPath == "" {
		return nil, fmt.Errorf("ner model missing under %s", bundleDir)
	}
	meta, err := loadModelMeta(bundleDir)
	if err != nil {
		return nil, fmt.Errorf("load model config: %w", err)
	}
	if len(meta.Labels) == 0 {
		return nil, errors.New("ner model has no token labels")
	}
	vocabPath, err := findVocab(bundleDir)
	if err != nil {
		return nil, err
	}
	lower := true
	if cfg.LowerCase != nil {
		lower = *cfg.LowerCase
	}
	tokenizer, err := LoadWordPieceTokenizer(vocabPath, lower)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	libPath := resolveSharedLibraryPath(bundleDir)
	if libPath == "" {
		return nil, errors.New("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	ort.SetSharedLibraryPath(libPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	numLabels := meta.NumLabels
	if numLabels <= 0 {
		numLabels = len(meta.Labels)
	}
	sessions := make(chan *onnxSession, poolSize)
	for i := 0; i < poolSize; i++ {
		ss, err := newONNXSession(modelPath, seqLen, numLabels, intraThr, interThr, meta.RequiresTokenType)
		if err != nil {
			return nil, fmt.Errorf("create onnx session %d/%d: %w", i+1, poolSize, err)
		}
		sessions <- ss
	}

	aliases := make(map[string]string, len(defaultAliases)+len(cfg.LabelAliases))
	for k, v := range defaultAliases {
		aliases[k] = v
	}
	for k, v := range cfg.LabelAliases {
		aliases[strings.ToUpper(strings.TrimSpace(k))] = strings.ToUpper(strings.TrimSpace(v))
	}

	return &ONNXLabeler{
		modelPath: modelPath,
		tokenizer: tokenizer,
		labels:    meta.Labels,
		numLabels: numLabels,
		seqLen:    seqLen,
		aliases:   aliases,
		sessions:  sessions,
	}, nil
}

func (l *ONNXLabeler) Name() string { return BackendONNX + ":" + filepath.Base(l.modelPath) }

// Label tokenizes text, runs the model and folds the argmax labels into spans.
// Text beyond MaxTokens is not labeled.
func (l *ONNXLabeler) Label(ctx context.Context, text string) ([]Span, error) {
	if l == nil || l.tokenizer == nil || l.sessions == nil {
		return nil, errors.New("onnx labeler not initialized")
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var ss *onnxSession
	select {
	case ss = <-l.sessions:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { l.sessions <- ss }()

	return labelWindows(ctx, text, l.tokenizer, l.seqLen, l.aliases, func(enc Encoding) ([]string, error) {
		copy(ss.inputIDs.GetData(), enc.IDs)
		copy(ss.attentionMask.GetData(), enc.Mask)
		if ss.tokenTypeIDs != nil {
			tokenTypes := ss.tokenTypeIDs.GetData()
			for i := range tokenTypes {
				tokenTypes[i] = 0
			}
		}
		if err := ss.session.Run(); err != nil {
			return nil, fmt.Errorf("onnx run: %w", err)
		}
		return argmaxLabels(ss.output.GetData(), l.numLabels, l.labels, len(enc.Offsets)), nil
	})
}

// labelWindows encodes text in consecutive windows of seqLen tokens, each
// starting at the first word the previous one could not fit, and labels
// every window with infer. Span offsets are relative to text.
func labelWindows(ctx context.Context, text string, tok *WordPieceTokenizer, seqLen int, aliases map[string]string, infer func(Encoding) ([]string, error)) ([]Span, error) {
	var out []Span
	windows := 0
	for start := 0; start < len(text); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		window := text[start:]
		enc := tok.Encode(window, seqLen)
		labels, err := infer(enc)
		if err != nil {
			return nil, err
		}
		for _, sp := range spansFromTokenLabels(window, labels, enc.Offsets, aliases) {
			sp.Start += start
			sp.End += start
			out = append(out, sp)
		}
		windows++
		if !enc.Truncated {
			break
		}
		if enc.Next <= 0 {
			redact.Warnf("onnx labeler: max_tokens %d cannot hold a single word; %d bytes not labeled", seqLen, len(window))
			break
		}
		start += enc.Next
	}
	if windows > 1 {
		redact.Debugf("onnx labeler: record labeled in %d windows of %d tokens", windows, seqLen)
	}
	return out, nil
}

// Warmup runs one inference so the first real record does not pay for
// graph initialization.
func (l *ONNXLabeler) Warmup(ctx context.Context, sample string) (time.Duration, error) {
	start := time.Now()
	if _, err := l.Label(ctx, sample); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Close releases every pooled session.
func (l *ONNXLabeler) Close() error {
	if l == nil || l.sessions == nil {
		return nil
	}
	close(l.sessions)
	var errs []error
	for ss := range l.sessions {
		if err := ss.destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func argmaxLabels(logits []float32, numLabels int, labels []string, tokens int) []string {
	if numLabels <= 0 || len(labels) == 0 {
		return nil
	}
	out := make([]string, tokens)
	for i := 0; i < tokens; i++ {
		base := i * numLabels
		if base >= len(logits) {
			break
		}
		best := 0
		bestScore := float32(-math.MaxFloat32)
		for j := 0; j < numLabels && base+j < len(logits); j++ {
			if logits[base+j] > bestScore {
				best = j
				bestScore = logits[base+j]
			}
		}
		if best < len(labels) {
			out[i] = labels[best]
		}
	}
	return out
}

func newONNXSession(modelPath string, seqLen, numLabels, intraThr, interThr int, includeTokenType bool) (*onnxSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("set graph optimization: %w", err)
	}
	if err := opts.SetIntraOpNumThreads(intraThr); err != nil {
		return nil, fmt.Errorf("set intra threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(interThr); err != nil {
		return nil, fmt.Errorf("set inter threads: %w", err)
	}

	inputShape := ort.NewShape(1, int64(seqLen))
	inputIDs, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	attnMask, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	var tokenType *ort.Tensor[int64]
	if includeTokenType {
		tokenType, err = ort.NewEmptyTensor[int64](inputShape)
		if err != nil {
			return nil, fmt.Errorf("allocate token_type_ids tensor: %w", err)
		}
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(seqLen), int64(numLabels)))
	if err != nil {
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	inputNames := []string{"input_ids", "attention_mask"}
	inputValues := []ort.Value{inputIDs, attnMask}
	if tokenType != nil {
		inputNames = append(inputNames, "token_type_ids")
		inputValues = append(inputValues, tokenType)
	}
	session, err := ort.NewAdvancedSession(
		modelPath,
		inputNames,
		[]string{"logits"},
		inputValues,
		[]ort.Value{output},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return &onnxSession{
		session:       session,
		inputIDs:      inputIDs,
		attentionMask: attnMask,
		tokenTypeIDs:  tokenType,
		output:        output,
	}, nil
}

func (s *onnxSession) destroy() error {
	var errs []error
	if s.session != nil {
		errs = append(errs, s.session.Destroy())
	}
	errs = append(errs, s.inputIDs.Destroy(), s.attentionMask.Destroy(), s.output.Destroy())
	if s.tokenTypeIDs != nil {
		errs = append(errs, s.tokenTypeIDs.Destroy())
	}
	return errors.Join(errs...)
}

func resolveModelPath(bundleDir string) string {
	for _, name := range []string{"model.int8.onnx", "model.onnx"} {
		p := filepath.Join(bundleDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

type modelMeta struct {
	Labels            []string
	NumLabels         int
	RequiresTokenType bool
}

// loadModelMeta reads labels from config.json (id2label) and lets an
// optional label_map.json override them.
func loadModelMeta(dir string) (modelMeta, error) {
	meta := modelMeta{}
	if data, err := os.ReadFile(filepath.Join(dir, "config.json")); err == nil {
		var cfg struct {
			NumLabels     int               `json:"num_labels"`
			ID2Label      map[string]string `json:"id2label"`
			TypeVocabSize int               `json:"type_vocab_size"`
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return meta, err
		}
		meta.Labels = labelsFromIDMap(cfg.ID2Label)
		meta.NumLabels = cfg.NumLabels
		if meta.NumLabels <= 0 {
			meta.NumLabels = len(meta.Labels)
		}
		meta.RequiresTokenType = cfg.TypeVocabSize > 0
	}

	if data, err := os.ReadFile(filepath.Join(dir, "label_map.json")); err == nil {
		var list []string
		if err := json.Unmarshal(data, &list); err == nil && len(list) > 0 {
			meta.Labels = list
			meta.NumLabels = len(list)
		} else {
			var idMap map[string]string
			if err := json.Unmarshal(data, &idMap); err != nil {
				return meta, fmt.Errorf("decode label_map.json: %w", err)
			}
			meta.Labels = labelsFromIDMap(idMap)
			meta.NumLabels = len(meta.Labels)
		}
	}
	return meta, nil
}

func labelsFromIDMap(id2label map[string]string) []string {
	maxID := -1
	parsed := make(map[int]string, len(id2label))
	for k, v := range id2label {
		id, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || id < 0 {
			continue
		}
		parsed[id] = v
		if id > maxID {
			maxID = id
		}
	}
	if maxID < 0 {
		return nil
	}
	labels := make([]string, maxID+1)
	for id, lbl := range parsed {
		labels[id] = lbl
	}
	return labels
}

// resolveSharedLibraryPath locates the onnxruntime shared library.
// ONNXRUNTIME_SHARED_LIBRARY_PATH wins; otherwise common names are tried.
func resolveSharedLibraryPath(bundleDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}
	names := []string{
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"libonnxruntime.so",
		"onnxruntime.so",
		"onnxruntime.dll",
	}
	dirs := []string{
		bundleDir,
		filepath.Join(bundleDir, "lib"),
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
