package ingestion_engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	inlineSpace = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	newlineRuns = regexp.MustCompile(`\s*\n\s*`)
)

var blockTags = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true, atom.Br: true,
	atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true, atom.Fieldset: true, atom.Figcaption: true,
	atom.Figure: true, atom.Footer: true, atom.Form: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Header: true, atom.Hr: true, atom.Li: true,
	atom.Main: true, atom.Nav: true, atom.Ol: true, atom.P: true, atom.Pre: true, atom.Section: true,
	atom.Table: true, atom.Tr: true, atom.Td: true, atom.Th: true, atom.Ul: true, atom.Body: true,
}

// htmlPage is the readable text of an HTML document.
type htmlPage struct {
	Title       string
	Description string
	Text        string
}

// htmlToText drops non-content elements, turns block elements into line
// breaks and collapses whitespace. Entities are decoded by the parser.
func htmlToText(raw string) (*htmlPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	page := &htmlPage{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	if page.Title == "" {
		if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok {
			page.Title = strings.TrimSpace(og)
		}
	}
	if d, ok := doc.Find("meta[name='description']").Attr("content"); ok {
		page.Description = strings.TrimSpace(d)
	}

	doc.Find("script, style, noscript, template, svg, iframe, head").Remove()

	var b strings.Builder
	for _, n := range doc.Nodes {
		walkText(n, &b)
	}

	text := inlineSpace.ReplaceAllString(b.String(), " ")
	text = newlineRuns.ReplaceAllString(text, "\n")
	page.Text = strings.TrimSpace(text)
	return page, nil
}

func walkText(n *html.Node, b *strings.Builder) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
		case html.ElementNode:
			block := blockTags[c.DataAtom]
			if block {
				b.WriteString("\n")
			}
			walkText(c, b)
			if block {
				b.WriteString("\n")
			}
		}
	}
}
