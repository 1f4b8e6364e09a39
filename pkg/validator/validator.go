package validator

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/pkg/evaluator"
)

// FieldError is one flat validation failure node.
type FieldError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
	Path  string `json:"path"`
}

// FileUpload describes an uploaded file after it has been written to
// the file store.
type FileUpload struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// MaxFileSize is the upload ceiling per file.
const MaxFileSize = 10 << 20

var allowedExtensions = map[string]bool{
	".txt": true, ".pdf": true, ".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".csv": true,
}

// AllowedExtension reports whether the filename carries a permitted
// upload extension.
func AllowedExtension(filename string) bool {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return false
	}
	return allowedExtensions[strings.ToLower(filename[idx:])]
}

var truthyStrings = map[string]bool{
	"true": true, "1": true, "yes": true, "on": true,
}

var falsyStrings = map[string]bool{
	"false": true, "0": true, "no": true, "off": true,
}

// Validator checks a raw submission against a form version. It is
// CPU-only; all storage access happens before it runs.
type Validator struct {
	eval *evaluator.Evaluator
}

func New(eval *evaluator.Evaluator) *Validator {
	return &Validator{eval: eval}
}

// Validate walks the version's sections in order, strips values whose
// visibility resolves false, and type-checks everything that remains.
// Required and range rules are skipped for drafts; type checks are not.
// Required-condition evaluation always uses the submitted answers map,
// not the stripped result.
func (v *Validator) Validate(version *storage.FormVersion, raw map[string]any, files map[string][]FileUpload, isDraft bool) (map[string]any, []FieldError) {
	flat := evaluator.Flatten(raw)
	out := make(map[string]any)
	var errs []FieldError

	for i := range version.Sections {
		sec := &version.Sections[i]
		if sec.IsDisabled {
			continue
		}
		if sec.VisibilityCondition != "" && !v.eval.EvalBool(sec.VisibilityCondition, flat) {
			continue
		}

		if sec.IsRepeatableSection {
			instances, ok := asInstanceList(raw[sec.ID])
			if !ok {
				if raw[sec.ID] != nil {
					errs = append(errs, FieldError{ID: sec.ID, Error: "Expected a list of section instances", Path: sec.ID})
					continue
				}
				instances = nil
			}
			if !isDraft {
				if len(instances) < sec.RepeatMin {
					errs = append(errs, FieldError{ID: sec.ID, Error: fmt.Sprintf("At least %d instances required", sec.RepeatMin), Path: sec.ID})
				}
				if sec.RepeatMax != nil && len(instances) > *sec.RepeatMax {
					errs = append(errs, FieldError{ID: sec.ID, Error: fmt.Sprintf("At most %d instances allowed", *sec.RepeatMax), Path: sec.ID})
				}
			}
			cleaned := make([]any, 0, len(instances))
			for idx, inst := range instances {
				path := fmt.Sprintf("%s[%d]", sec.ID, idx)
				clean, instErrs := v.validateInstance(sec, inst, flat, files, isDraft, path)
				errs = append(errs, instErrs...)
				cleaned = append(cleaned, clean)
			}
			if len(cleaned) > 0 {
				out[sec.ID] = cleaned
			}
			continue
		}

		instance, _ := raw[sec.ID].(map[string]any)
		clean, instErrs := v.validateInstance(sec, instance, flat, files, isDraft, sec.ID)
		errs = append(errs, instErrs...)
		if len(clean) > 0 {
			out[sec.ID] = clean
		}
	}

	return out, errs
}

func asInstanceList(val any) ([]map[string]any, bool) {
	switch list := val.(type) {
	case []map[string]any:
		return list, true
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	}
	return nil, false
}

func (v *Validator) validateInstance(sec *storage.Section, instance map[string]any, flat map[string]any, files map[string][]FileUpload, isDraft bool, path string) (map[string]any, []FieldError) {
	clean := make(map[string]any)
	var errs []FieldError

	for qi := range sec.Questions {
		q := &sec.Questions[qi]
		switch q.FieldType {
		case storage.FieldDivider, storage.FieldSpacer, storage.FieldImage:
			continue
		}

		if q.VisibilityCondition != "" && !v.eval.EvalBool(q.VisibilityCondition, flat) {
			continue
		}

		required := q.IsRequired
		if !required && q.RequiredCondition != "" {
			required = v.eval.EvalBool(q.RequiredCondition, flat)
		}

		qPath := path + "." + q.ID

		if q.FieldType == storage.FieldCalculated {
			expr, _ := q.MetaData["calculated_value"].(string)
			if expr != "" {
				val, err := v.eval.Eval(expr, flat)
				if err == nil && val != nil {
					clean[q.ID] = val
				}
			}
			continue
		}

		value, present := instance[q.ID]
		if !present || isEmpty(value) {
			if q.FieldType == storage.FieldFileUpload && len(files[q.ID]) > 0 {
				// Uploads arrive out-of-band; fall through to the type check.
				value, present = nil, true
			} else {
				if required && !isDraft {
					errs = append(errs, FieldError{ID: q.ID, Error: "Required", Path: qPath})
				}
				continue
			}
		}

		if q.IsRepeatableQuestion {
			list, ok := value.([]any)
			if !ok {
				errs = append(errs, FieldError{ID: q.ID, Error: "Expected a list of values", Path: qPath})
				continue
			}
			if !isDraft {
				if len(list) < q.RepeatMin {
					errs = append(errs, FieldError{ID: q.ID, Error: fmt.Sprintf("At least %d values required", q.RepeatMin), Path: qPath})
				}
				if q.RepeatMax != nil && len(list) > *q.RepeatMax {
					errs = append(errs, FieldError{ID: q.ID, Error: fmt.Sprintf("At most %d values allowed", *q.RepeatMax), Path: qPath})
				}
			}
			cleaned := make([]any, 0, len(list))
			for idx, item := range list {
				itemPath := fmt.Sprintf("%s[%d]", qPath, idx)
				cv, fieldErrs := v.checkValue(q, item, files, isDraft, itemPath)
				errs = append(errs, fieldErrs...)
				if len(fieldErrs) == 0 {
					cleaned = append(cleaned, cv)
				}
			}
			clean[q.ID] = cleaned
			continue
		}

		cv, fieldErrs := v.checkValue(q, value, files, isDraft, qPath)
		errs = append(errs, fieldErrs...)
		if len(fieldErrs) == 0 {
			clean[q.ID] = cv
		}
	}

	return clean, errs
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// checkValue type-checks one value and applies the question's
// validation rules. It returns the canonical form to store.
func (v *Validator) checkValue(q *storage.Question, value any, files map[string][]FileUpload, isDraft bool, path string) (any, []FieldError) {
	fail := func(msg string) (any, []FieldError) {
		return nil, []FieldError{{ID: q.ID, Error: msg, Path: path}}
	}

	switch q.FieldType {
	case storage.FieldInput, storage.FieldTextarea, storage.FieldSignature, storage.FieldAPISearch:
		s, ok := value.(string)
		if !ok {
			return fail("Expected text")
		}
		if !isDraft {
			if min, ok := ruleInt(q.ValidationRules, "min_length"); ok && len(s) < min {
				return fail(fmt.Sprintf("Must be at least %d characters", min))
			}
			if max, ok := ruleInt(q.ValidationRules, "max_length"); ok && len(s) > max {
				return fail(fmt.Sprintf("Must be at most %d characters", max))
			}
			if pattern, ok := q.ValidationRules["pattern"].(string); ok && pattern != "" {
				re, err := regexp.Compile(pattern)
				if err == nil && !re.MatchString(s) {
					return fail("Does not match the expected pattern")
				}
			}
		}
		return s, nil

	case storage.FieldNumber, storage.FieldRating, storage.FieldSlider:
		f, ok := evaluator.ToFloat64(value)
		if !ok {
			return fail("Expected a number")
		}
		if !isDraft {
			if min, ok := ruleFloat(q.ValidationRules, "min"); ok && f < min {
				return fail(fmt.Sprintf("Must be at least %v", min))
			}
			if max, ok := ruleFloat(q.ValidationRules, "max"); ok && f > max {
				return fail(fmt.Sprintf("Must be at most %v", max))
			}
			if q.FieldType == storage.FieldSlider {
				if step, ok := ruleFloat(q.ValidationRules, "step"); ok && step > 0 {
					base := 0.0
					if min, ok := ruleFloat(q.ValidationRules, "min"); ok {
						base = min
					}
					steps := (f - base) / step
					if diff := steps - float64(int64(steps+0.5)); diff > 1e-9 || diff < -1e-9 {
						return fail(fmt.Sprintf("Must be a multiple of %v", step))
					}
				}
			}
		}
		return f, nil

	case storage.FieldSelect, storage.FieldRadio:
		s, ok := value.(string)
		if !ok {
			return fail("Expected an option value")
		}
		if !optionAllowed(q.Options, s) {
			return fail("Not a valid option")
		}
		return s, nil

	case storage.FieldCheckbox:
		list, ok := value.([]any)
		if !ok {
			return fail("Expected a list of option values")
		}
		selected := make([]any, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok || !optionAllowed(q.Options, s) {
				return fail("Not a valid option")
			}
			selected = append(selected, s)
		}
		if !isDraft {
			if min, ok := ruleInt(q.ValidationRules, "min_selections"); ok && len(selected) < min {
				return fail(fmt.Sprintf("Select at least %d options", min))
			}
			if max, ok := ruleInt(q.ValidationRules, "max_selections"); ok && len(selected) > max {
				return fail(fmt.Sprintf("Select at most %d options", max))
			}
		}
		return selected, nil

	case storage.FieldBoolean:
		switch b := value.(type) {
		case bool:
			return b, nil
		case string:
			s := strings.ToLower(b)
			if truthyStrings[s] {
				return true, nil
			}
			if falsyStrings[s] {
				return false, nil
			}
		}
		return fail("Expected true or false")

	case storage.FieldDate:
		s, ok := value.(string)
		if !ok {
			return fail("Expected an ISO-8601 date")
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			if _, err := time.Parse("2006-01-02", s); err != nil {
				return fail("Expected an ISO-8601 date")
			}
		}
		return s, nil

	case storage.FieldFileUpload:
		uploads := files[q.ID]
		if len(uploads) == 0 {
			// Accept a previously stored file reference on update.
			if ref, ok := value.(map[string]any); ok {
				if _, has := ref["filename"]; has {
					return ref, nil
				}
			}
			return fail("Expected an uploaded file")
		}
		stored := make([]any, 0, len(uploads))
		for _, u := range uploads {
			if u.Size > MaxFileSize {
				return fail("File exceeds the 10 MB limit")
			}
			if !AllowedExtension(u.Filename) {
				return fail("File type is not allowed")
			}
			stored = append(stored, map[string]any{
				"filename": u.Filename,
				"path":     u.Path,
				"size":     u.Size,
			})
		}
		if len(stored) == 1 {
			return stored[0], nil
		}
		return stored, nil

	case storage.FieldMatrixChoice:
		selections, ok := value.(map[string]any)
		if !ok {
			return fail("Expected a row-to-column map")
		}
		rows := metaStrings(q.MetaData, "rows")
		columns := metaStrings(q.MetaData, "columns")
		clean := make(map[string]any, len(rows))
		for _, row := range rows {
			sel, has := selections[row]
			if !has || isEmpty(sel) {
				if !isDraft {
					return fail(fmt.Sprintf("Missing selection for %q", row))
				}
				continue
			}
			s, ok := sel.(string)
			if !ok || !contains(columns, s) {
				return fail(fmt.Sprintf("Invalid selection for %q", row))
			}
			clean[row] = s
		}
		return clean, nil
	}

	// Unknown field types pass through untouched.
	return value, nil
}

func optionAllowed(options []storage.Option, value string) bool {
	for _, o := range options {
		if o.OptionValue == value && !o.IsDisabled {
			return true
		}
	}
	return false
}

func ruleInt(rules map[string]any, key string) (int, bool) {
	if rules == nil {
		return 0, false
	}
	v, ok := rules[key]
	if !ok {
		return 0, false
	}
	n, ok := evaluator.ToInt64(v)
	return int(n), ok
}

func ruleFloat(rules map[string]any, key string) (float64, bool) {
	if rules == nil {
		return 0, false
	}
	v, ok := rules[key]
	if !ok {
		return 0, false
	}
	return evaluator.ToFloat64(v)
}

func metaStrings(meta map[string]any, key string) []string {
	if meta == nil {
		return nil
	}
	raw, ok := meta[key].([]any)
	if !ok {
		if direct, ok := meta[key].([]string); ok {
			return direct
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
