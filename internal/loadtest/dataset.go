package loadtest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// minimalRecord is the fallback payload when no dataset file is
// configured: a single one-request batch input.
const minimalRecord = `{"custom_id": "req-1", "method": "POST", "url": "/v1/chat/completions", "body": {"model": "load-test", "messages": [{"role": "user", "content": "Hello"}], "max_tokens": 100}}`

// Dataset is the source of work units: one JSONL record per line, each
// representing one unit of work. Records are handed out round-robin to
// virtual-user iterations.
type Dataset struct {
	records [][]byte
	cursor  atomic.Int64
}

// LoadDataset reads a JSONL file, validating each line as JSON and,
// when schemaPath is set, against the given JSON schema. A failure
// here fails the run before any virtual user starts.
func LoadDataset(path, schemaPath string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}

	var schema *jsonschema.Schema
	if schemaPath != "" {
		schema, err = jsonschema.Compile(schemaPath)
		if err != nil {
			return nil, fmt.Errorf("compiling dataset schema: %w", err)
		}
	}

	var records [][]byte
	for i, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			return nil, fmt.Errorf("dataset line %d: invalid JSON", i+1)
		}
		if schema != nil {
			var doc interface{}
			if err := json.Unmarshal(line, &doc); err != nil {
				return nil, fmt.Errorf("dataset line %d: %w", i+1, err)
			}
			if err := schema.Validate(doc); err != nil {
				return nil, fmt.Errorf("dataset line %d: %w", i+1, err)
			}
		}
		records = append(records, line)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("dataset %s contains no records", path)
	}

	return &Dataset{records: records}, nil
}

// DatasetFromRecords builds a dataset from in-memory records.
func DatasetFromRecords(records ...string) *Dataset {
	d := &Dataset{}
	for _, r := range records {
		d.records = append(d.records, []byte(r))
	}
	return d
}

// DefaultDataset returns the single-record fallback dataset.
func DefaultDataset() *Dataset {
	return DatasetFromRecords(minimalRecord)
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.records)
}

// Next returns the next record round-robin. Safe for concurrent use.
func (d *Dataset) Next() []byte {
	n := d.cursor.Add(1) - 1
	return d.records[int(n)%len(d.records)]
}
