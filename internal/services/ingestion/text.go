package ingestion

import (
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Selectors tried in order for the main content of a page
const mainContentSelector = "main, article, [role='main'], .content, .main-content, #content, #main"

var (
	blankLines = regexp.MustCompile(`\n{3,}`)
	spaceRuns  = regexp.MustCompile(`[ \t]+`)
)

var markdownParser = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify),
)

// HTMLPage is the readable content of an HTML page
type HTMLPage struct {
	Title    string
	Markdown string
	Text     string
}

// ParseHTML extracts the title and main content of an HTML page.
// Scripts, styles and page chrome are dropped before conversion.
func ParseHTML(html, pageURL string) (*HTMLPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := extractTitle(doc)

	doc.Find("script, style, noscript, nav, header, footer, aside, form, iframe").Remove()

	content := doc.Find(mainContentSelector).First()
	if content.Length() == 0 {
		content = doc.Find("body")
	}

	converter := md.NewConverter(domainOf(pageURL), true, nil)
	converter.Use(plugin.GitHubFlavored())
	markdown := strings.TrimSpace(converter.Convert(content))
	if markdown == "" {
		markdown = normalizeText(content.Text())
	}

	return &HTMLPage{
		Title:    title,
		Markdown: markdown,
		Text:     MarkdownToText(markdown),
	}, nil
}

func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return "Untitled"
}

// domainOf returns scheme://host for resolving relative links
func domainOf(pageURL string) string {
	if i := strings.Index(pageURL, "://"); i >= 0 {
		rest := pageURL[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return pageURL[:i+3+j]
		}
	}
	return pageURL
}

// MarkdownToText flattens markdown into plain text, one block per line.
// Links keep their text, tables become "cell | cell" rows.
func MarkdownToText(markdown string) string {
	source := []byte(markdown)
	root := markdownParser.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(source))
				if node.HardLineBreak() {
					b.WriteByte('\n')
				} else if node.SoftLineBreak() {
					b.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.Label(source))
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					line := lines.At(i)
					b.Write(line.Value(source))
				}
				b.WriteByte('\n')
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
			if !entering {
				b.WriteByte('\n')
			}
		case *ast.ListItem:
			if entering {
				b.WriteString("- ")
			}
		case *ast.ThematicBreak:
			if entering {
				b.WriteByte('\n')
			}
		case *extast.TableCell:
			if !entering && n.NextSibling() != nil {
				b.WriteString(" | ")
			}
		case *extast.TableRow, *extast.TableHeader:
			if !entering {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})

	return normalizeText(b.String())
}

// normalizeText collapses runs of spaces and blank lines
func normalizeText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRuns.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	out = blankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
