package docext

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeVision struct {
	text string
	err  error
	mime string
}

func (f *fakeVision) GenerateWithFile(ctx context.Context, model, prompt, mimeType string, data []byte) (string, error) {
	f.mime = mimeType
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func TestExtractPlainText(t *testing.T) {
	e := NewExtractor(&fakeVision{}, "gemini-2.5-flash", time.Minute)

	res, err := e.ExtractText(context.Background(), "notes.txt", "text/plain", []byte("hello world"))
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("text = %q", res.Text)
	}
	if res.PageCount != 1 {
		t.Errorf("pageCount = %d", res.PageCount)
	}
}

func TestExtractEmptyDocument(t *testing.T) {
	e := NewExtractor(&fakeVision{}, "gemini-2.5-flash", time.Minute)
	if _, err := e.ExtractText(context.Background(), "empty.pdf", "application/pdf", nil); err == nil {
		t.Fatal("expected error for empty document")
	}
}

func TestExtractImageUsesVision(t *testing.T) {
	fv := &fakeVision{text: "Invoice 42\nTotal: 100 EUR"}
	e := NewExtractor(fv, "gemini-2.5-flash", time.Minute)

	res, err := e.ExtractText(context.Background(), "scan.png", "image/png", []byte{0x89, 0x50})
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if res.Text != "Invoice 42\nTotal: 100 EUR" {
		t.Errorf("text = %q", res.Text)
	}
	if fv.mime != "image/png" {
		t.Errorf("mime = %q", fv.mime)
	}
}

func TestTranscriptionFailureDegradesToEmptyText(t *testing.T) {
	fv := &fakeVision{err: errors.New("model unavailable")}
	e := NewExtractor(fv, "gemini-2.5-flash", time.Minute)

	res, err := e.ExtractText(context.Background(), "scan.png", "image/png", []byte{0x89, 0x50})
	if err != nil {
		t.Fatalf("ExtractText should not fail on transcription error: %v", err)
	}
	if res.Text != "" {
		t.Errorf("expected empty text, got %q", res.Text)
	}
}

type chunkVision struct {
	mu     sync.Mutex
	calls  int
	failOn string
}

func (f *chunkVision) GenerateWithFile(ctx context.Context, model, prompt, mimeType string, data []byte) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failOn != "" && string(data) == f.failOn {
		return "", errors.New("model overloaded")
	}
	return "page " + string(data), nil
}

func TestTranscribeChunksPreservesPageOrder(t *testing.T) {
	fv := &chunkVision{}
	e := NewExtractor(fv, "gemini-2.5-flash", time.Minute)

	chunks := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	res, err := e.transcribeChunks(context.Background(), "big.pdf", chunks, 25)
	if err != nil {
		t.Fatalf("transcribeChunks failed: %v", err)
	}
	if res.Text != "page a\n\npage b\n\npage c" {
		t.Errorf("text = %q", res.Text)
	}
	if res.PageCount != 25 {
		t.Errorf("pageCount = %d", res.PageCount)
	}
	if fv.calls != 3 {
		t.Errorf("calls = %d", fv.calls)
	}
}

func TestTranscribeChunksFailureDegradesToEmptyText(t *testing.T) {
	fv := &chunkVision{failOn: "b"}
	e := NewExtractor(fv, "gemini-2.5-flash", time.Minute)

	chunks := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	res, err := e.transcribeChunks(context.Background(), "big.pdf", chunks, 25)
	if err != nil {
		t.Fatalf("chunk failure must not surface as an error: %v", err)
	}
	if res.Text != "" {
		t.Errorf("expected empty text, got %q", res.Text)
	}
	if res.PageCount != 25 {
		t.Errorf("pageCount = %d", res.PageCount)
	}
}

func TestChunkStartPage(t *testing.T) {
	cases := []struct {
		name  string
		start int
		ok    bool
	}{
		{"doc_1-10.pdf", 1, true},
		{"doc_11-20.pdf", 11, true},
		{"doc_21.pdf", 21, true},
		{"doc_x.pdf", 0, false},
	}
	for _, tc := range cases {
		start, ok := chunkStartPage(tc.name)
		if start != tc.start || ok != tc.ok {
			t.Errorf("chunkStartPage(%q) = (%d, %v), want (%d, %v)", tc.name, start, ok, tc.start, tc.ok)
		}
	}
}

func TestInvalidPDFRejected(t *testing.T) {
	e := NewExtractor(&fakeVision{text: "x"}, "gemini-2.5-flash", time.Minute)
	if _, err := e.ExtractText(context.Background(), "bad.pdf", "application/pdf", []byte("not a pdf")); err == nil {
		t.Fatal("expected error for invalid pdf")
	}
}
