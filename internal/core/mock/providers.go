package mock

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"sync"
)

// Embedder is a scripted core.EmbeddingProvider. It derives a deterministic
// bag-of-words vector from each text, so texts sharing vocabulary embed
// close together and equal texts embed identically. FailFirst makes the
// first N calls fail, for retry tests. A non-nil Block makes every call
// hang until the channel is closed or the context is cancelled.
type Embedder struct {
	mu        sync.Mutex
	calls     int
	FailFirst int
	Err       error
	Dims      int
	Block     chan struct{}
}

func (e *Embedder) Name() string { return "mock" }

func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	block := e.Block
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if call <= e.FailFirst {
		if e.Err != nil {
			return nil, e.Err
		}
		return nil, fmt.Errorf("embed call %d failed", call)
	}

	dims := e.Dims
	if dims < 1 {
		dims = 8
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, dims)
		for _, word := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			h.Write([]byte(word))
			vec[int(h.Sum32())%dims]++
		}
		out[i] = vec
	}
	return out, nil
}

// LLM is a scripted core.LLMProvider.
type LLM struct {
	Reply string
	Err   error

	mu          sync.Mutex
	lastSystem  string
	lastUser    string
	generations int
}

func (l *LLM) Name() string  { return "mock" }
func (l *LLM) Model() string { return "mock-model" }

func (l *LLM) Generate(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	l.mu.Lock()
	l.lastSystem, l.lastUser = systemPrompt, userPrompt
	l.generations++
	l.mu.Unlock()
	if l.Err != nil {
		return "", l.Err
	}
	if l.Reply == "" {
		return "mock answer", nil
	}
	return l.Reply, nil
}

func (l *LLM) LastPrompts() (system, user string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSystem, l.lastUser
}

func (l *LLM) Generations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generations
}

// Extractor treats stored bytes as plain text, or returns a scripted error.
type Extractor struct {
	Err error
}

func (e *Extractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	if e.Err != nil {
		return "", e.Err
	}
	return string(data), nil
}

// ObjectStore keeps uploaded files in memory, keyed bucket/key.
type ObjectStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{files: make(map[string][]byte)}
}

func (o *ObjectStore) UploadFile(_ context.Context, bucket, key string, data io.Reader, _ string) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return "", err
	}
	o.mu.Lock()
	o.files[bucket+"/"+key] = buf.Bytes()
	o.mu.Unlock()
	return fmt.Sprintf("https://%s.s3.us-east-2.amazonaws.com/%s", bucket, key), nil
}

func (o *ObjectStore) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.files[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (o *ObjectStore) DeleteFile(_ context.Context, bucket, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.files, bucket+"/"+key)
	return nil
}
