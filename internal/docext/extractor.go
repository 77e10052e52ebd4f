// Package docext turns uploaded documents into plain text for the extraction
// pipeline. PDFs are validated and normalized with pdfcpu before being
// transcribed by Gemini; large PDFs are split into page chunks and
// transcribed in parallel.
package docext

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"
)

const (
	// pagesPerChunk bounds one Gemini call; bigger documents are split so a
	// single oversized request cannot time out or blow the token budget.
	pagesPerChunk     = 10
	maxParallelChunks = 4
)

// VisionModel transcribes a document from its raw bytes.
type VisionModel interface {
	GenerateWithFile(ctx context.Context, model, prompt, mimeType string, data []byte) (string, error)
}

// Extractor converts documents to text.
type Extractor struct {
	vision  VisionModel
	model   string
	timeout time.Duration
}

// Result is the outcome of one document conversion.
type Result struct {
	Text      string
	PageCount int
}

func NewExtractor(vision VisionModel, modelName string, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Extractor{vision: vision, model: modelName, timeout: timeout}
}

const transcribePrompt = "Transcribe the full text content of this document. " +
	"Preserve tables as aligned plain text. Output only the transcription, no commentary."

// ExtractText converts a document to plain text. Transcription failures
// degrade to empty text so a bad scan never blocks session creation.
func (e *Extractor) ExtractText(ctx context.Context, fileName, contentType string, data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, fmt.Errorf("empty document %q", fileName)
	}

	switch {
	case strings.HasPrefix(contentType, "text/"):
		return Result{Text: string(data), PageCount: 1}, nil
	case contentType == "application/pdf" || strings.HasSuffix(strings.ToLower(fileName), ".pdf"):
		return e.extractPDF(ctx, fileName, data)
	default:
		return e.transcribe(ctx, fileName, contentType, data, 1)
	}
}

func (e *Extractor) extractPDF(ctx context.Context, fileName string, data []byte) (Result, error) {
	normalized, pageCount, err := normalizePDF(data)
	if err != nil {
		return Result{}, fmt.Errorf("invalid pdf %q: %w", fileName, err)
	}

	if pageCount > pagesPerChunk && e.vision != nil {
		chunks, err := splitPDF(normalized, pagesPerChunk)
		if err != nil {
			log.Printf("docext: splitting %q failed, transcribing whole: %v", fileName, err)
			return e.transcribe(ctx, fileName, "application/pdf", normalized, pageCount)
		}
		return e.transcribeChunks(ctx, fileName, chunks, pageCount)
	}
	return e.transcribe(ctx, fileName, "application/pdf", normalized, pageCount)
}

func (e *Extractor) transcribe(ctx context.Context, fileName, mimeType string, data []byte, pageCount int) (Result, error) {
	if e.vision == nil {
		return Result{PageCount: pageCount}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, err := e.vision.GenerateWithFile(ctx, e.model, transcribePrompt, mimeType, data)
	if err != nil {
		log.Printf("docext: transcription of %q failed, continuing without text: %v", fileName, err)
		return Result{PageCount: pageCount}, nil
	}
	return Result{Text: strings.TrimSpace(text), PageCount: pageCount}, nil
}

// transcribeChunks fans the page chunks out to the vision model and stitches
// the transcriptions back together in page order. A failed chunk degrades the
// whole document to empty text, the same contract as transcribe.
func (e *Extractor) transcribeChunks(ctx context.Context, fileName string, chunks [][]byte, pageCount int) (Result, error) {
	texts := make([]string, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelChunks)
	for i, chunk := range chunks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()

			text, err := e.vision.GenerateWithFile(cctx, e.model, transcribePrompt, "application/pdf", chunk)
			if err != nil {
				return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
			}
			texts[i] = strings.TrimSpace(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("docext: chunked transcription of %q failed, continuing without text: %v", fileName, err)
		return Result{PageCount: pageCount}, nil
	}

	var parts []string
	for _, t := range texts {
		if t != "" {
			parts = append(parts, t)
		}
	}
	return Result{Text: strings.Join(parts, "\n\n"), PageCount: pageCount}, nil
}

// normalizePDF validates the PDF with relaxed settings, rewrites it optimized,
// and reports the page count. pdfcpu's api works on files, so the bytes round
// trip through a temp dir.
func normalizePDF(data []byte) ([]byte, int, error) {
	dir, err := os.MkdirTemp("", "docext-*")
	if err != nil {
		return nil, 0, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in.pdf")
	outPath := filepath.Join(dir, "out.pdf")
	if err := os.WriteFile(inPath, data, 0o600); err != nil {
		return nil, 0, fmt.Errorf("write temp pdf: %w", err)
	}

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.OptimizeFile(inPath, outPath, cfg); err != nil {
		return nil, 0, fmt.Errorf("optimize pdf: %w", err)
	}

	pageCount, err := api.PageCountFile(outPath)
	if err != nil {
		return nil, 0, fmt.Errorf("page count: %w", err)
	}

	normalized, err := os.ReadFile(outPath)
	if err != nil {
		return nil, 0, fmt.Errorf("read optimized pdf: %w", err)
	}
	return normalized, pageCount, nil
}

// splitPDF cuts a normalized PDF into span-page chunks and returns their
// bytes in page order.
func splitPDF(data []byte, span int) ([][]byte, error) {
	dir, err := os.MkdirTemp("", "docext-split-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	srcPath := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(srcPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := api.SplitFile(srcPath, dir, span, nil); err != nil {
		return nil, fmt.Errorf("split pdf: %w", err)
	}

	// pdfcpu names chunks doc_<from>.pdf or doc_<from>-<to>.pdf.
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read split dir: %w", err)
	}
	type chunkFile struct {
		start int
		path  string
	}
	var files []chunkFile
	for _, entry := range entries {
		name := entry.Name()
		if name == "doc.pdf" || !strings.HasPrefix(name, "doc_") {
			continue
		}
		start, ok := chunkStartPage(name)
		if !ok {
			continue
		}
		files = append(files, chunkFile{start: start, path: filepath.Join(dir, name)})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("split produced no chunks")
	}
	sort.Slice(files, func(i, j int) bool { return files[i].start < files[j].start })

	chunks := make([][]byte, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("read chunk %s: %w", f.path, err)
		}
		chunks = append(chunks, b)
	}
	return chunks, nil
}

// chunkStartPage parses the first page number out of a split file name like
// "doc_11-20.pdf" or "doc_21.pdf".
func chunkStartPage(name string) (int, bool) {
	s := strings.TrimSuffix(strings.TrimPrefix(name, "doc_"), ".pdf")
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
