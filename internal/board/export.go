package board

import (
	"encoding/json"
	"fmt"

	"github.com/inkwell-im/inkwell/internal/document"
)

// FileExtension is the extension of exported whiteboard files.
const FileExtension = ".nwb"

// ExportVersion identifies the export envelope format.
const ExportVersion = "net.nordeck.whiteboard@v1"

// ExportFile is the JSON envelope written by Export. Locks and ids are
// runtime state and deliberately not part of the exchange format.
type ExportFile struct {
	Version    string           `json:"version"`
	Whiteboard ExportWhiteboard `json:"whiteboard"`
}

// ExportWhiteboard carries the slides in presentation order.
type ExportWhiteboard struct {
	Slides []ExportSlide `json:"slides"`
}

// ExportSlide carries one slide's elements in stacking order.
type ExportSlide struct {
	Elements []map[string]any `json:"elements"`
}

// Export serializes the document into the export envelope.
func Export(doc *document.Document) ([]byte, error) {
	snapshot, err := doc.Project()
	if err != nil {
		return nil, fmt.Errorf("failed to project document: %w", err)
	}
	wb, err := ParseSnapshot(snapshot)
	if err != nil {
		return nil, fmt.Errorf("cannot export an invalid whiteboard: %w", err)
	}

	file := ExportFile{Version: ExportVersion}
	for _, slideID := range wb.SlideIDs {
		slide := wb.Slides[slideID]
		exported := ExportSlide{Elements: []map[string]any{}}
		for _, elementID := range slide.ElementIDs {
			exported.Elements = append(exported.Elements, slide.Elements[elementID].ToValue())
		}
		file.Whiteboard.Slides = append(file.Whiteboard.Slides, exported)
	}

	out, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export file: %w", err)
	}
	return out, nil
}

// ValidateExport checks an export file before its content may be imported:
// version match and schema conformance of every element. A structured error
// names the first offending slide/element.
func ValidateExport(data []byte) (*ExportFile, error) {
	var file ExportFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("malformed export file: %w", err)
	}
	if file.Version != ExportVersion {
		return nil, fmt.Errorf("unsupported export version %q", file.Version)
	}
	for i, slide := range file.Whiteboard.Slides {
		for j, element := range slide.Elements {
			if err := checkElementValue(element); err != nil {
				return nil, fmt.Errorf("slide %d, element %d: %w", i, j, err)
			}
		}
	}
	return &file, nil
}
