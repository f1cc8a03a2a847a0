package loadtest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDataset(t *testing.T) {
	path := writeTempFile(t, "input.jsonl",
		`{"custom_id": "req-1", "url": "/v1/chat/completions"}
{"custom_id": "req-2", "url": "/v1/chat/completions"}

{"custom_id": "req-3", "url": "/v1/chat/completions"}
`)

	d, err := LoadDataset(path, "")
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	if d.Len() != 3 {
		t.Errorf("Len = %d, want 3 (blank lines skipped)", d.Len())
	}
}

func TestLoadDatasetInvalidJSON(t *testing.T) {
	path := writeTempFile(t, "input.jsonl",
		`{"custom_id": "req-1"}
not json at all
`)

	_, err := LoadDataset(path, "")
	if err == nil {
		t.Fatal("expected error for invalid JSON line")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error %q does not name the offending line", err)
	}
}

func TestLoadDatasetEmpty(t *testing.T) {
	path := writeTempFile(t, "input.jsonl", "\n\n")
	if _, err := LoadDataset(path, ""); err == nil {
		t.Fatal("expected error for empty dataset")
	}
}

func TestLoadDatasetSchema(t *testing.T) {
	schema := writeTempFile(t, "schema.json", `{
		"type": "object",
		"required": ["custom_id"],
		"properties": {"custom_id": {"type": "string"}}
	}`)

	good := writeTempFile(t, "good.jsonl", `{"custom_id": "req-1"}`)
	if _, err := LoadDataset(good, schema); err != nil {
		t.Fatalf("LoadDataset with schema: %v", err)
	}

	bad := writeTempFile(t, "bad.jsonl", `{"wrong_field": 42}`)
	if _, err := LoadDataset(bad, schema); err == nil {
		t.Fatal("expected schema violation error")
	}
}

func TestDatasetRoundRobin(t *testing.T) {
	d := DatasetFromRecords(`{"n":1}`, `{"n":2}`, `{"n":3}`)

	var got []string
	for i := 0; i < 7; i++ {
		got = append(got, string(d.Next()))
	}

	want := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`, `{"n":1}`, `{"n":2}`, `{"n":3}`, `{"n":1}`}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Next()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDefaultDataset(t *testing.T) {
	d := DefaultDataset()
	if d.Len() != 1 {
		t.Fatalf("Len = %d, want 1", d.Len())
	}
	record := string(d.Next())
	if !strings.Contains(record, "/v1/chat/completions") {
		t.Errorf("fallback record missing endpoint: %s", record)
	}
}
