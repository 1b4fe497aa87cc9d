package rtcxml

import (
	"bytes"
	"embed"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/liamcoop/rtc/rtcerr"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

// schemaFor maps each document to its schema file
var schemaFor = map[string]string{
	ToolsConfigFile: "schemas/rtcToolsConfig.json",
	DataConfigFile:  "schemas/rtcDataConfig.json",
	TimeSeriesFile:  "schemas/pi_timeseries.json",
	StateFile:       "schemas/treeVector.json",
}

// loadSchemas compiles the embedded schemas once per process
var loadSchemas = sync.OnceValues(func() (map[string]*gojsonschema.Schema, error) {
	out := make(map[string]*gojsonschema.Schema, len(schemaFor))
	for doc, file := range schemaFor {
		data, err := schemaFiles.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", file, err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", file, err)
		}
		out[doc] = schema
	}
	return out, nil
})

// validateDocument checks data against the schema of document. It returns
// one SchemaValidationError per violation, or a MalformedXMLError when the
// data is not well-formed XML.
func validateDocument(document string, data []byte) ([]*rtcerr.SchemaValidationError, error) {
	schemas, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	schema, ok := schemas[document]
	if !ok {
		return nil, fmt.Errorf("no schema for document %s", document)
	}

	infoset, err := toInfoset(data)
	if err != nil {
		return nil, rtcerr.Malformed(document, err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(infoset))
	if err != nil {
		return nil, fmt.Errorf("failed to validate %s: %w", document, err)
	}

	var violations []*rtcerr.SchemaValidationError
	for _, re := range result.Errors() {
		violations = append(violations, &rtcerr.SchemaValidationError{
			Document:    document,
			Field:       re.Field(),
			Description: re.Description(),
		})
	}
	return violations, nil
}

// toInfoset converts an XML document into the JSON shape the schemas
// describe. Every element becomes an object; attributes are "@name" keys,
// child elements are arrays keyed by local name and non-blank text is
// "#text". Namespace declarations are dropped.
func toInfoset(data []byte) (map[string]any, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	type frame struct {
		name string
		obj  map[string]any
		text strings.Builder
	}
	var stack []*frame
	var root map[string]any

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			obj := make(map[string]any)
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" || a.Name.Space == "xsi" ||
					a.Name.Space == "http://www.w3.org/2001/XMLSchema-instance" {
					continue
				}
				obj["@"+a.Name.Local] = a.Value
			}
			stack = append(stack, &frame{name: t.Name.Local, obj: obj})

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}

		case xml.EndElement:
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if text := strings.TrimSpace(top.text.String()); text != "" {
				top.obj["#text"] = text
			}

			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("document has more than one root element")
				}
				root = map[string]any{top.name: []any{top.obj}}
				continue
			}
			parent := stack[len(stack)-1].obj
			children, _ := parent[top.name].([]any)
			parent[top.name] = append(children, top.obj)
		}
	}

	if root == nil {
		return nil, fmt.Errorf("document has no root element")
	}
	return root, nil
}
