package blocks

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"path"
	"strings"
)

const (
	documentPart = "word/document.xml"
	relsPart     = "word/_rels/document.xml.rels"
)

// ErrInvalidDocument is returned for input that is not a readable .docx file.
var ErrInvalidDocument = errors.New("invalid Word document")

// FromDocx reads the paragraphs of a .docx file. Embedded pictures become
// base64 data URIs; externally linked pictures keep their target URL.
func FromDocx(data []byte) ([]Block, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	doc, ok := files[documentPart]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidDocument, documentPart)
	}

	images, err := readImages(files)
	if err != nil {
		return nil, err
	}

	rc, err := doc.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", documentPart, err)
	}
	defer rc.Close()
	return parseDocument(rc, images)
}

type relationships struct {
	Rels []struct {
		ID         string `xml:"Id,attr"`
		Type       string `xml:"Type,attr"`
		Target     string `xml:"Target,attr"`
		TargetMode string `xml:"TargetMode,attr"`
	} `xml:"Relationship"`
}

// readImages maps image relationship ids to an image source.
func readImages(files map[string]*zip.File) (map[string]string, error) {
	out := map[string]string{}
	f, ok := files[relsPart]
	if !ok {
		return out, nil
	}
	raw, err := readZipFile(f)
	if err != nil {
		return nil, err
	}
	var rels relationships
	if err := xml.Unmarshal(raw, &rels); err != nil {
		return nil, fmt.Errorf("parse %s: %w", relsPart, err)
	}
	for _, r := range rels.Rels {
		if !strings.HasSuffix(r.Type, "/image") {
			continue
		}
		if r.TargetMode == "External" {
			out[r.ID] = r.Target
			continue
		}
		name := strings.TrimPrefix(r.Target, "/")
		if !strings.HasPrefix(r.Target, "/") {
			name = path.Join("word", r.Target)
		}
		img, ok := files[name]
		if !ok {
			continue
		}
		data, err := readZipFile(img)
		if err != nil {
			return nil, err
		}
		ct := mime.TypeByExtension(path.Ext(name))
		if ct == "" {
			ct = "image/png"
		}
		out[r.ID] = "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data)
	}
	return out, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// parseDocument walks document.xml. Paragraphs nested inside another
// paragraph (text boxes) are folded into the outer one.
func parseDocument(r io.Reader, images map[string]string) ([]Block, error) {
	dec := xml.NewDecoder(r)
	var out []Block
	var text, markup strings.Builder
	var imgs []string
	depth := 0
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", documentPart, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				depth++
				if depth > 1 {
					text.WriteString(" ")
					markup.WriteString(" ")
				}
			case "t":
				inText = true
			case "tab":
				if depth > 0 {
					text.WriteString("\t")
					markup.WriteString("\t")
				}
			case "br", "cr":
				if depth > 0 {
					text.WriteString("\n")
					markup.WriteString("<br />")
				}
			case "blip", "imagedata":
				for _, a := range t.Attr {
					if a.Name.Local != "embed" && a.Name.Local != "id" {
						continue
					}
					if src, ok := images[a.Value]; ok {
						imgs = append(imgs, src)
						markup.WriteString(`<img src="` + html.EscapeString(src) + `" />`)
					}
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				depth--
				if depth > 0 {
					continue
				}
				b := Block{Text: strings.TrimSpace(text.String()), Images: imgs, Markup: strings.TrimSpace(markup.String())}
				if b.Text != "" || len(b.Images) > 0 {
					out = append(out, b)
				}
				text.Reset()
				markup.Reset()
				imgs = nil
			}
		case xml.CharData:
			if inText {
				text.Write(t)
				markup.WriteString(html.EscapeString(string(t)))
			}
		}
	}
}
