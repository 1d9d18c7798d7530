package planner

import "testing"

func TestValidatePlanDocument(t *testing.T) {
	payload := []byte(`{
        "steps": [
            {"tool": "add", "args": {"a": 2, "b": 2}, "rationale": "sum"}
        ],
        "directive": "FINAL_ANSWER: step0.result",
        "rationale": "simple arithmetic"
    }`)
	if err := ValidatePlanDocument(payload); err != nil {
		t.Fatalf("expected payload to validate: %v", err)
	}
}

func TestValidatePlanDocumentFails(t *testing.T) {
	cases := map[string]string{
		"missing directive": `{"steps": []}`,
		"empty tool":        `{"steps": [{"tool": ""}], "directive": "FINAL_ANSWER: x"}`,
		"unknown step key":  `{"steps": [{"tool": "add", "depends_on": [1]}], "directive": "FINAL_ANSWER: x"}`,
		"not json":          `FINAL_ANSWER: 4`,
	}
	for name, payload := range cases {
		if err := ValidatePlanDocument([]byte(payload)); err == nil {
			t.Fatalf("%s: expected schema validation to fail", name)
		}
	}
}
