// Package transform converts fetched page markup into readable text. It
// strips noise elements with goquery, isolates the main article with
// go-readability or go-trafilatura, and renders markdown with html-to-markdown.
package transform

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/markusmobius/go-trafilatura"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/search-fetch/internal/crawler"
)

// Main-content extractors.
const (
	ExtractorReadability = "readability"
	ExtractorTrafilatura = "trafilatura"
)

// noiseSelectors never carry readable content.
var noiseSelectors = []string{
	"script", "style", "noscript", "iframe", "svg", "template", "link", "meta",
}

// Config selects the main-content extractor.
type Config struct {
	Extractor string
	Logger    *zap.Logger
}

// Transformer implements crawler.Transformer.
type Transformer struct {
	extractor string
	logger    *zap.Logger
}

// New returns a Transformer. Unknown extractors fall back to readability.
func New(cfg Config) *Transformer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	extractor := cfg.Extractor
	if extractor != ExtractorTrafilatura {
		extractor = ExtractorReadability
	}
	return &Transformer{extractor: extractor, logger: logger.Named("transform")}
}

// Transform renders page in cfg.Format. Main-content extraction failures fall
// back to the document body; only unparseable markup is an error.
func (t *Transformer) Transform(page crawler.PageCapture, cfg crawler.TransformConfig) (string, error) {
	markup := page.HTML()
	if strings.TrimSpace(markup) == "" {
		return "", nil
	}

	if cfg.CleanHTML {
		cleaned, err := Clean(markup)
		if err != nil {
			return "", err
		}
		markup = cleaned
	}

	if cfg.MainContentOnly {
		main, err := t.extractMain(markup, page.ResolvedURL())
		if err != nil || strings.TrimSpace(main) == "" {
			t.logger.Debug("main content extraction failed, using body",
				zap.String("url", page.ResolvedURL()),
				zap.String("extractor", t.extractor),
				zap.Error(err),
			)
			body, bodyErr := bodyHTML(markup)
			if bodyErr != nil {
				return "", bodyErr
			}
			main = body
		}
		markup = main
	}

	switch cfg.Format {
	case crawler.FormatHTML:
		return markup, nil
	case crawler.FormatText:
		return toText(markup)
	case crawler.FormatMarkdown, "":
		md, err := htmltomarkdown.ConvertString(markup)
		if err != nil {
			return "", fmt.Errorf("convert markdown: %w", err)
		}
		return strings.TrimSpace(md), nil
	default:
		return "", fmt.Errorf("unsupported format %q", cfg.Format)
	}
}

// Clean removes noise elements and HTML comments from markup.
func Clean(markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(strings.Join(noiseSelectors, ", ")).Remove()
	for _, n := range doc.Nodes {
		removeComments(n)
	}
	out, err := goquery.OuterHtml(doc.Selection)
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return out, nil
}

func removeComments(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			removeComments(c)
		}
		c = next
	}
}

func (t *Transformer) extractMain(markup, pageURL string) (string, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	if t.extractor == ExtractorTrafilatura {
		return extractTrafilatura(markup, parsedURL)
	}
	article, err := readability.FromReader(strings.NewReader(markup), parsedURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	return article.Content, nil
}

func extractTrafilatura(markup string, pageURL *url.URL) (string, error) {
	result, err := trafilatura.Extract(strings.NewReader(markup), trafilatura.Options{
		OriginalURL: pageURL,
	})
	if err != nil {
		return "", fmt.Errorf("trafilatura: %w", err)
	}
	if result == nil || result.ContentNode == nil {
		return "", errors.New("trafilatura: no content")
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, result.ContentNode); err != nil {
		return "", fmt.Errorf("render trafilatura content: %w", err)
	}
	return buf.String(), nil
}

func bodyHTML(markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return markup, nil
	}
	out, err := goquery.OuterHtml(body)
	if err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}
	return out, nil
}

func toText(markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	lines := strings.Split(doc.Text(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), nil
}
