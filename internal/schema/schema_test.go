package schema

import (
	"testing"

	"github.com/user/formforge/internal/storage"
	"github.com/user/formforge/pkg/evaluator"
)

func TestCheckShape(t *testing.T) {
	valid := `{
	  "version": "v1",
	  "sections": [
	    {"id": "sec_a", "questions": [
	      {"id": "q1", "field_type": "input", "is_required": true}
	    ]}
	  ]
	}`
	if msgs := CheckShape([]byte(valid)); len(msgs) != 0 {
		t.Errorf("valid payload rejected: %v", msgs)
	}

	tests := []struct {
		name    string
		payload string
	}{
		{"missing sections", `{"version": "v1"}`},
		{"bad field type", `{"sections": [{"id": "s", "questions": [{"id": "q", "field_type": "hologram"}]}]}`},
		{"question without id", `{"sections": [{"id": "s", "questions": [{"field_type": "input"}]}]}`},
		{"sections not array", `{"sections": {"id": "s"}}`},
		{"not json", `{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if msgs := CheckShape([]byte(tt.payload)); len(msgs) == 0 {
				t.Error("expected shape violations")
			}
		})
	}
}

func TestCheckSemantics(t *testing.T) {
	eval := evaluator.New(nil)
	two := 2

	tests := []struct {
		name    string
		version storage.FormVersion
		wantErr bool
	}{
		{
			"valid",
			storage.FormVersion{Sections: []storage.Section{{
				ID: "s1",
				Questions: []storage.Question{
					{ID: "q1", FieldType: storage.FieldSelect, Options: []storage.Option{{OptionValue: "a"}, {OptionValue: "b"}}},
					{ID: "q2", FieldType: storage.FieldInput, RequiredCondition: "answers.get('q1') == 'a'"},
				},
			}}},
			false,
		},
		{
			"duplicate question id across sections",
			storage.FormVersion{Sections: []storage.Section{
				{ID: "s1", Questions: []storage.Question{{ID: "q1", FieldType: storage.FieldInput}}},
				{ID: "s2", Questions: []storage.Question{{ID: "q1", FieldType: storage.FieldInput}}},
			}},
			true,
		},
		{
			"bad condition grammar",
			storage.FormVersion{Sections: []storage.Section{{
				ID:        "s1",
				Questions: []storage.Question{{ID: "q1", FieldType: storage.FieldInput, VisibilityCondition: "now() > 1"}},
			}}},
			true,
		},
		{
			"choice without options",
			storage.FormVersion{Sections: []storage.Section{{
				ID:        "s1",
				Questions: []storage.Question{{ID: "q1", FieldType: storage.FieldRadio}},
			}}},
			true,
		},
		{
			"duplicate option values",
			storage.FormVersion{Sections: []storage.Section{{
				ID: "s1",
				Questions: []storage.Question{{ID: "q1", FieldType: storage.FieldSelect,
					Options: []storage.Option{{OptionValue: "a"}, {OptionValue: "a"}}}},
			}}},
			true,
		},
		{
			"repeat bounds inverted",
			storage.FormVersion{Sections: []storage.Section{{
				ID: "s1", IsRepeatableSection: true, RepeatMin: 5, RepeatMax: &two,
				Questions: []storage.Question{{ID: "q1", FieldType: storage.FieldInput}},
			}}},
			true,
		},
		{
			"calculated without expression",
			storage.FormVersion{Sections: []storage.Section{{
				ID:        "s1",
				Questions: []storage.Question{{ID: "q1", FieldType: storage.FieldCalculated}},
			}}},
			true,
		},
		{
			"matrix without rows",
			storage.FormVersion{Sections: []storage.Section{{
				ID: "s1",
				Questions: []storage.Question{{ID: "q1", FieldType: storage.FieldMatrixChoice,
					MetaData: map[string]any{"columns": []any{"good"}}}},
			}}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := CheckSemantics(eval, &tt.version)
			if (len(msgs) > 0) != tt.wantErr {
				t.Errorf("msgs = %v, wantErr %v", msgs, tt.wantErr)
			}
		})
	}
}
