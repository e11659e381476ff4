package importer

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SubmitFunc stores or enqueues the text of one note.
type SubmitFunc func(ctx context.Context, text string) error

// Result summarises an import run.
type Result struct {
	FilesFound int
	Submitted  int
	Skipped    int // empty files
	Failed     int
	Errors     []string
	Duration   time.Duration
}

// Import walks dir and submits every Markdown note in lexical path order.
// Hidden directories such as .obsidian are skipped. A note that cannot be
// read, parsed or submitted is counted and the walk continues; only a walk
// failure or a cancelled ctx ends the run early.
func Import(ctx context.Context, dir string, submit SubmitFunc) (*Result, error) {
	start := time.Now()
	result := &Result{}

	files, err := collectMarkdownFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	result.FilesFound = len(files)

	for _, absPath := range files {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		rel, _ := filepath.Rel(dir, absPath)
		data, err := os.ReadFile(absPath)
		if err != nil {
			result.fail(rel, "read", err)
			continue
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			result.Skipped++
			continue
		}

		note, err := ParseNote(data, rel)
		if err != nil {
			result.fail(rel, "parse", err)
			continue
		}
		if err := submit(ctx, note.Text); err != nil {
			result.fail(rel, "submit", err)
			continue
		}
		result.Submitted++
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (r *Result) fail(rel, stage string, err error) {
	log.Printf("import: skip %s: %s error: %v", rel, stage, err)
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %s error: %v", rel, stage, err))
}

// collectMarkdownFiles returns all .md / .markdown files under dir.
func collectMarkdownFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext == ".md" || ext == ".markdown" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
