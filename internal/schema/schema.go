package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/pkg/evaluator"
)

// versionSchema is the structural contract for an incoming form
// version payload. Semantic checks (condition grammar, option
// uniqueness) happen after the shape check passes.
const versionSchema = `{
  "type": "object",
  "required": ["sections"],
  "properties": {
    "version": {"type": "string"},
    "sections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "questions"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "description": {"type": "string"},
          "order": {"type": "integer"},
          "ui": {"type": "string", "enum": ["", "flex", "grid-cols-2", "tabbed", "custom"]},
          "visibility_condition": {"type": "string"},
          "is_disabled": {"type": "boolean"},
          "is_repeatable_section": {"type": "boolean"},
          "repeat_min": {"type": "integer", "minimum": 0},
          "repeat_max": {"type": "integer", "minimum": 1},
          "questions": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id", "field_type"],
              "properties": {
                "id": {"type": "string", "minLength": 1},
                "label": {"type": "string"},
                "field_type": {
                  "type": "string",
                  "enum": ["input", "textarea", "number", "select", "radio",
                           "checkbox", "boolean", "rating", "date", "file_upload",
                           "api_search", "calculated", "signature", "slider",
                           "image", "divider", "spacer", "matrix_choice"]
                },
                "is_required": {"type": "boolean"},
                "required_condition": {"type": "string"},
                "help_text": {"type": "string"},
                "order": {"type": "integer"},
                "visibility_condition": {"type": "string"},
                "validation_rules": {"type": "object"},
                "is_repeatable_question": {"type": "boolean"},
                "repeat_min": {"type": "integer", "minimum": 0},
                "repeat_max": {"type": "integer", "minimum": 1},
                "options": {
                  "type": "array",
                  "items": {
                    "type": "object",
                    "required": ["option_value"],
                    "properties": {
                      "id": {"type": "string"},
                      "option_label": {"type": "string"},
                      "option_value": {"type": "string"},
                      "is_default": {"type": "boolean"},
                      "is_disabled": {"type": "boolean"},
                      "order": {"type": "integer"},
                      "followup_visibility_condition": {"type": "string"}
                    }
                  }
                },
                "field_api_call": {"type": "string"},
                "custom_script": {"type": "string"},
                "meta_data": {"type": "object"}
              }
            }
          }
        }
      }
    }
  }
}`

var compiled = gojsonschema.NewStringLoader(versionSchema)

// CheckShape validates the raw version payload against the structural
// schema and returns one message per violation.
func CheckShape(raw []byte) []string {
	result, err := gojsonschema.Validate(compiled, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return []string{fmt.Sprintf("invalid schema payload: %v", err)}
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return msgs
}

// CheckSemantics validates everything the shape check cannot: unique
// ids, condition grammar, option values and repeat bounds.
func CheckSemantics(eval *evaluator.Evaluator, version *storage.FormVersion) []string {
	var msgs []string
	seenIDs := make(map[string]string)

	checkCondition := func(where, cond string) {
		if cond == "" {
			return
		}
		if err := eval.Validate(cond); err != nil {
			msgs = append(msgs, fmt.Sprintf("%s: %v", where, err))
		}
	}

	for si := range version.Sections {
		sec := &version.Sections[si]
		if prev, dup := seenIDs[sec.ID]; dup {
			msgs = append(msgs, fmt.Sprintf("section %s: id already used by %s", sec.ID, prev))
		}
		seenIDs[sec.ID] = "section " + sec.ID
		checkCondition("section "+sec.ID+" visibility_condition", sec.VisibilityCondition)
		if sec.RepeatMax != nil && *sec.RepeatMax < sec.RepeatMin {
			msgs = append(msgs, fmt.Sprintf("section %s: repeat_max below repeat_min", sec.ID))
		}

		for qi := range sec.Questions {
			q := &sec.Questions[qi]
			where := fmt.Sprintf("section %s question %s", sec.ID, q.ID)
			if prev, dup := seenIDs[q.ID]; dup {
				msgs = append(msgs, fmt.Sprintf("%s: id already used by %s", where, prev))
			}
			seenIDs[q.ID] = where
			checkCondition(where+" visibility_condition", q.VisibilityCondition)
			checkCondition(where+" required_condition", q.RequiredCondition)
			if q.RepeatMax != nil && *q.RepeatMax < q.RepeatMin {
				msgs = append(msgs, fmt.Sprintf("%s: repeat_max below repeat_min", where))
			}

			switch q.FieldType {
			case storage.FieldSelect, storage.FieldRadio, storage.FieldCheckbox:
				if len(q.Options) == 0 {
					msgs = append(msgs, where+": choice field needs options")
				}
				values := make(map[string]bool)
				for _, o := range q.Options {
					if strings.TrimSpace(o.OptionValue) == "" {
						msgs = append(msgs, where+": empty option_value")
						continue
					}
					if values[o.OptionValue] {
						msgs = append(msgs, fmt.Sprintf("%s: duplicate option_value %q", where, o.OptionValue))
					}
					values[o.OptionValue] = true
					checkCondition(where+" option "+o.OptionValue, o.FollowupVisibilityCondition)
				}
			case storage.FieldCalculated:
				expr, _ := q.MetaData["calculated_value"].(string)
				if expr == "" {
					msgs = append(msgs, where+": calculated field needs meta_data.calculated_value")
				} else {
					checkCondition(where+" calculated_value", expr)
				}
			case storage.FieldMatrixChoice:
				if len(metaList(q.MetaData, "rows")) == 0 || len(metaList(q.MetaData, "columns")) == 0 {
					msgs = append(msgs, where+": matrix_choice needs meta_data.rows and meta_data.columns")
				}
			}
		}
	}
	return msgs
}

func metaList(meta map[string]any, key string) []any {
	if meta == nil {
		return nil
	}
	list, _ := meta[key].([]any)
	return list
}
