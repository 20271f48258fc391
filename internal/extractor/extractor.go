// Package extractor implements the per-format text extraction of §4.2,
// always producing UTF-8 text for the chunker.
//
// PDF extraction is grounded on bbiangul-go-reason/parser/pdf.go's
// Y-proximity line grouping and heading heuristics (github.com/ledongthuc/pdf),
// generalised from that file's section/metadata output into inline
// Markdown heading markers. HTML extraction is grounded on
// intelligencedev-manifold/internal/tools/web/fetch.go's
// htmltomarkdown.ConvertString call. JSON extraction uses gopkg.in/yaml.v3's
// yaml.Node API to marshal a json.Decoder token stream so source key order
// survives the JSON → YAML round trip, something a map[string]any decode
// would lose. XML extraction has no ordered counterpart anywhere in the
// pack; it is built directly on stdlib encoding/xml's streaming decoder —
// the one stdlib-only piece of this package, justified in DESIGN.md.
package extractor

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/ledongthuc/pdf"
	"gopkg.in/yaml.v3"

	"ragcore/internal/ragerr"
	"ragcore/internal/validator"
)

// Extract dispatches on result.Format (as assigned by the validator),
// consulting filename only to distinguish an HTML lenient-tier upload from
// other plain-text variants, and returns the extracted UTF-8 text.
func Extract(filename string, result *validator.Result) (string, error) {
	var text string
	var err error

	switch result.Format {
	case validator.FormatPDF:
		text, err = extractPDF(result.Content)
	case validator.FormatJSON:
		text, err = jsonToYAML(result.Content)
	case validator.FormatXML:
		text, err = xmlToYAML(result.Content)
	case validator.FormatYAML:
		text = string(result.Content)
	case validator.FormatText:
		if isHTMLExtension(filename) {
			text, err = htmlToMarkdown(result.Content)
		} else {
			text = string(result.Content)
		}
	default:
		return "", ragerr.New(ragerr.KindValidation, fmt.Sprintf("unknown format tag %q", result.Format))
	}
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", ragerr.New(ragerr.KindTextExtractionEmpty, fmt.Sprintf("extraction of %q produced no text", filename))
	}
	return text, nil
}

func isHTMLExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".html" || ext == ".htm"
}

func htmlToMarkdown(content []byte) (string, error) {
	md, err := htmltomarkdown.ConvertString(string(content))
	if err != nil {
		return "", ragerr.Wrap(ragerr.KindTextExtractionEmpty, "html to markdown conversion failed", err)
	}
	return strings.TrimSpace(md), nil
}

// --- PDF ---

type pdfLine struct {
	y    float64
	text string
}

// extractPDF reads every page's text in visual (top-to-bottom) order,
// grounded on extractPageTextOrdered's Y-proximity line grouping, and
// emits Markdown with a heading marker on lines the same heuristic
// classifies as a heading.
func extractPDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", ragerr.Wrap(ragerr.KindTextExtractionEmpty, "failed to open PDF for extraction", err)
	}

	var out strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		lines, err := pageLines(page)
		if err != nil || len(lines) == 0 {
			continue
		}
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if isLikelyHeading(trimmed) {
				out.WriteString("## ")
			}
			out.WriteString(trimmed)
			out.WriteString("\n")
		}
		out.WriteString("\n")
	}
	return strings.TrimSpace(out.String()), nil
}

func pageLines(page pdf.Page) ([]string, error) {
	content := page.Content()
	if len(content.Text) == 0 {
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, err
		}
		return strings.Split(text, "\n"), nil
	}

	const lineTolerance = 3.0
	var lines []*pdfLine
	var cur *pdfLine
	for _, t := range content.Text {
		if cur == nil || math.Abs(t.Y-cur.y) > lineTolerance {
			lines = append(lines, &pdfLine{y: t.Y})
			cur = lines[len(lines)-1]
		}
		cur.text += t.S
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].y > lines[j].y })

	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.text)
	}
	return out, nil
}

// isLikelyHeading mirrors bbiangul-go-reason's heading heuristic: short
// all-caps lines or numbered-section prefixes.
func isLikelyHeading(line string) bool {
	if len(line) < 100 && len(line) > 2 && line == strings.ToUpper(line) {
		return true
	}
	if len(line) > 0 && len(line) < 120 && line[0] >= '0' && line[0] <= '9' {
		head := line
		if len(head) > 10 {
			head = head[:10]
		}
		if strings.Contains(head, ".") {
			return true
		}
	}
	return false
}

// --- JSON → YAML ---

// jsonToYAML decodes a JSON document token-by-token into a yaml.Node tree,
// preserving source object key order, then marshals that tree as YAML.
func jsonToYAML(content []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()
	node, err := decodeJSONValue(dec)
	if err != nil {
		return "", ragerr.Wrap(ragerr.KindValidation, "failed to decode JSON for extraction", err)
	}
	out, err := yaml.Marshal(node)
	if err != nil {
		return "", ragerr.Wrap(ragerr.KindValidation, "failed to marshal extracted JSON as YAML", err)
	}
	return string(out), nil
}

func decodeJSONValue(dec *json.Decoder) (*yaml.Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := keyTok.(string)
				valNode, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				node.Content = append(node.Content, scalarNode("!!str", key), valNode)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return node, nil
		case '[':
			node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for dec.More() {
				valNode, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				node.Content = append(node.Content, valNode)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return node, nil
		}
		return nil, fmt.Errorf("unexpected JSON delimiter %q", t)
	case string:
		return scalarNode("!!str", t), nil
	case json.Number:
		return scalarNode("!!float", t.String()), nil
	case bool:
		return scalarNode("!!bool", strconv.FormatBool(t)), nil
	case nil:
		return scalarNode("!!null", "null"), nil
	default:
		return nil, fmt.Errorf("unexpected JSON token type %T", tok)
	}
}

func scalarNode(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

// --- XML → ordered map → YAML ---

// xmlToYAML parses XML via encoding/xml's streaming decoder into a yaml.Node
// mapping that preserves element order, exposing attributes as "@name" keys
// and text content as "#text", then marshals that tree as YAML.
func xmlToYAML(content []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", ragerr.Wrap(ragerr.KindValidation, "failed to decode XML for extraction", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		elementNode, err := xmlElementToYAML(dec, start)
		if err != nil {
			return "", ragerr.Wrap(ragerr.KindValidation, "failed to decode XML for extraction", err)
		}
		root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		root.Content = append(root.Content, scalarNode("!!str", start.Name.Local), elementNode)
		out, err := yaml.Marshal(root)
		if err != nil {
			return "", ragerr.Wrap(ragerr.KindValidation, "failed to marshal extracted XML as YAML", err)
		}
		return string(out), nil
	}
}

func xmlElementToYAML(dec *xml.Decoder, start xml.StartElement) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, attr := range start.Attr {
		node.Content = append(node.Content, scalarNode("!!str", "@"+attr.Name.Local), scalarNode("!!str", attr.Value))
	}

	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			childNode, err := xmlElementToYAML(dec, t)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, scalarNode("!!str", t.Name.Local), childNode)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if trimmed := strings.TrimSpace(text.String()); trimmed != "" {
				node.Content = append(node.Content, scalarNode("!!str", "#text"), scalarNode("!!str", trimmed))
			}
			return node, nil
		}
	}
}
