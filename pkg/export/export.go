package export

import (
	"archive/zip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/user/formforge/internal/storage"
)

// column is one CSV column bound to a question.
type column struct {
	header     string
	sectionID  string
	questionID string
	fieldType  storage.FieldType
	repeatable bool
}

// columns derives the header layout from the schema version so every
// row has the same shape regardless of which answers are present.
func columns(version *storage.FormVersion) []column {
	var cols []column
	for i := range version.Sections {
		sec := &version.Sections[i]
		for j := range sec.Questions {
			q := &sec.Questions[j]
			switch q.FieldType {
			case storage.FieldDivider, storage.FieldSpacer, storage.FieldImage:
				continue
			}
			cols = append(cols, column{
				header:     sec.ID + "." + q.ID,
				sectionID:  sec.ID,
				questionID: q.ID,
				fieldType:  q.FieldType,
				repeatable: sec.IsRepeatableSection,
			})
		}
	}
	return cols
}

// CSV writes one row per response. Header fields come first, then one
// column per question in schema order. Checkbox selections join with
// "|"; repeatable sections and structured values serialize as JSON.
func CSV(w io.Writer, version *storage.FormVersion, responses []storage.FormResponse) error {
	cols := columns(version)
	cw := csv.NewWriter(w)

	header := []string{"response_id", "submitted_by", "submitted_at", "status"}
	for _, c := range cols {
		header = append(header, c.header)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for i := range responses {
		r := &responses[i]
		row := []string{
			r.ID,
			r.SubmittedBy,
			r.SubmittedAt.Format(time.RFC3339),
			string(r.Status),
		}
		for _, c := range cols {
			row = append(row, cellValue(c, r.Data))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func cellValue(c column, data map[string]any) string {
	sectionVal, ok := data[c.sectionID]
	if !ok {
		return ""
	}
	if c.repeatable {
		// All instances' values for this question, JSON-encoded.
		list, ok := sectionVal.([]any)
		if !ok {
			return ""
		}
		var values []any
		for _, inst := range list {
			if m, ok := inst.(map[string]any); ok {
				if v, has := m[c.questionID]; has {
					values = append(values, v)
				}
			}
		}
		if len(values) == 0 {
			return ""
		}
		raw, _ := json.Marshal(values)
		return string(raw)
	}

	instance, ok := sectionVal.(map[string]any)
	if !ok {
		return ""
	}
	return formatValue(c.fieldType, instance[c.questionID])
}

func formatValue(ft storage.FieldType, val any) string {
	if val == nil {
		return ""
	}
	switch ft {
	case storage.FieldCheckbox:
		if list, ok := val.([]any); ok {
			parts := make([]string, 0, len(list))
			for _, item := range list {
				parts = append(parts, fmt.Sprintf("%v", item))
			}
			return strings.Join(parts, "|")
		}
	case storage.FieldFileUpload:
		if m, ok := val.(map[string]any); ok {
			if name, ok := m["filename"].(string); ok {
				return name
			}
		}
		if list, ok := val.([]any); ok {
			parts := make([]string, 0, len(list))
			for _, item := range list {
				if m, ok := item.(map[string]any); ok {
					if name, ok := m["filename"].(string); ok {
						parts = append(parts, name)
					}
				}
			}
			return strings.Join(parts, "|")
		}
	case storage.FieldMatrixChoice:
		raw, _ := json.Marshal(val)
		return string(raw)
	}
	switch v := val.(type) {
	case string:
		return v
	case map[string]any, []any:
		raw, _ := json.Marshal(v)
		return string(raw)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// bundle is the JSON export envelope.
type bundle struct {
	Form      *storage.Form          `json:"form"`
	Responses []storage.FormResponse `json:"responses"`
}

// JSON writes the form definition together with its responses.
func JSON(w io.Writer, form *storage.Form, responses []storage.FormResponse) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(bundle{Form: form, Responses: responses})
}

// FileOpener resolves a stored upload path to its content.
type FileOpener func(relPath string) (io.ReadCloser, error)

// Zip bundles the CSV export, the JSON export and every uploaded file
// referenced by the responses. A missing upload is skipped, not fatal.
func Zip(w io.Writer, form *storage.Form, version *storage.FormVersion, responses []storage.FormResponse, open FileOpener) error {
	zw := zip.NewWriter(w)

	csvEntry, err := zw.Create("responses.csv")
	if err != nil {
		return err
	}
	if err := CSV(csvEntry, version, responses); err != nil {
		return err
	}

	jsonEntry, err := zw.Create("responses.json")
	if err != nil {
		return err
	}
	if err := JSON(jsonEntry, form, responses); err != nil {
		return err
	}

	if open != nil {
		for i := range responses {
			for _, rel := range uploadPaths(responses[i].Data) {
				if err := addUpload(zw, rel, open); err != nil {
					return err
				}
			}
		}
	}
	return zw.Close()
}

func addUpload(zw *zip.Writer, rel string, open FileOpener) error {
	r, err := open(rel)
	if err != nil {
		return nil
	}
	defer r.Close()
	entry, err := zw.Create(path.Join("uploads", path.Clean("/"+rel)))
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, r)
	return err
}

// uploadPaths collects stored file references from a response's data.
func uploadPaths(data map[string]any) []string {
	var paths []string
	var walk func(val any)
	walk = func(val any) {
		switch v := val.(type) {
		case map[string]any:
			if p, ok := v["path"].(string); ok {
				if _, hasName := v["filename"]; hasName {
					paths = append(paths, p)
					return
				}
			}
			for _, child := range v {
				walk(child)
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(data)
	return paths
}
