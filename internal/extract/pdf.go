// Package extract pulls plain text out of policy PDF documents.
package extract

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extractor reads PDF files from disk. The zero value is ready to use;
// a custom logger can be attached for tests.
type Extractor struct {
	logger *slog.Logger
}

// New returns an Extractor logging through the default slog logger.
func New() *Extractor {
	return &Extractor{logger: slog.Default()}
}

func (e *Extractor) log() *slog.Logger {
	if e.logger == nil {
		return slog.Default()
	}
	return e.logger
}

// Text returns the concatenated plain text of every page, pages joined
// by newline. Unreadable pages contribute an empty string. Any failure
// to open or parse the file is logged and yields ""; callers treat
// empty text as "no ingestible content" and skip chunk generation.
func (e *Extractor) Text(path string) string {
	text, err := e.extract(path)
	if err != nil {
		e.log().Warn("failed to read PDF", "path", path, "error", err)
		return ""
	}
	return text
}

func (e *Extractor) extract(path string) (text string, err error) {
	// The pdf package panics on some malformed files; treat a panic
	// like any other unreadable-file error.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = &parsePanicError{value: r}
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			e.log().Warn("failed to extract page", "path", path, "page", i, "error", err)
			content = ""
		}
		pages = append(pages, content)
	}

	return strings.Join(pages, "\n"), nil
}

type parsePanicError struct {
	value any
}

func (e *parsePanicError) Error() string {
	return fmt.Sprintf("pdf parser panic: %v", e.value)
}
