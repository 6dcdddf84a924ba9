// Package blocks turns rich-text documents into the flat paragraph sequence
// the question parsers work on.
package blocks

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Block is one paragraph of a document.
type Block struct {
	Text   string   // plain text, trimmed
	Images []string // image sources in document order
	Markup string   // the paragraph's inner HTML
}

// ImageOnly reports whether the block carries images but no text.
func (b Block) ImageOnly() bool {
	return b.Text == "" && len(b.Images) > 0
}

// FirstImage returns the first image source, or "".
func (b Block) FirstImage() string {
	if len(b.Images) == 0 {
		return ""
	}
	return b.Images[0]
}

var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Li: true, atom.Div: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// FromHTML splits an HTML document into blocks at paragraph-level elements.
// Blocks with neither text nor images are dropped.
func FromHTML(r io.Reader) ([]Block, error) {
	z := html.NewTokenizer(r)
	var out []Block
	var text, markup strings.Builder
	var images []string

	flush := func() {
		b := Block{Text: strings.TrimSpace(text.String()), Images: images, Markup: strings.TrimSpace(markup.String())}
		if b.Text != "" || len(b.Images) > 0 {
			out = append(out, b)
		}
		text.Reset()
		markup.Reset()
		images = nil
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			flush()
			return out, nil
		case html.TextToken:
			// Raw before Text: Text unescapes the buffer in place.
			markup.Write(z.Raw())
			text.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			raw := string(z.Raw())
			tok := z.Token()
			switch {
			case blockAtoms[tok.DataAtom]:
				flush()
				continue
			case tok.DataAtom == atom.Img && tt != html.EndTagToken:
				for _, a := range tok.Attr {
					if a.Key == "src" && a.Val != "" {
						images = append(images, a.Val)
					}
				}
			case tok.DataAtom == atom.Br && tt != html.EndTagToken:
				text.WriteString("\n")
			}
			markup.WriteString(raw)
		}
	}
}
