package cluster

import (
	"encoding/json"
	"testing"

	"github.com/thanos/couchbase-ex/lib/cberr"
)

func TestLookupOpRoundTrip(t *testing.T) {
	for _, op := range []LookupOp{LookupGet, LookupExists, LookupCount} {
		parsed, err := ParseLookupOp(op.String())
		if err != nil {
			t.Fatalf("ParseLookupOp(%q) error = %v", op.String(), err)
		}
		if parsed != op {
			t.Errorf("ParseLookupOp(%q) = %v, want %v", op.String(), parsed, op)
		}
	}
	if _, err := ParseLookupOp("fetch"); err == nil {
		t.Errorf("ParseLookupOp(\"fetch\") expected an error, got nil")
	}
}

func TestMutateOpRoundTrip(t *testing.T) {
	ops := []MutateOp{
		MutateUpsert, MutateInsert, MutateReplace, MutateRemove,
		MutateArrayAppend, MutateArrayPrepend, MutateIncrement,
	}
	for _, op := range ops {
		parsed, err := ParseMutateOp(op.String())
		if err != nil {
			t.Fatalf("ParseMutateOp(%q) error = %v", op.String(), err)
		}
		if parsed != op {
			t.Errorf("ParseMutateOp(%q) = %v, want %v", op.String(), parsed, op)
		}
	}
}

func TestSpecValidation(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"valid lookup", LookupSpec{Op: LookupGet, Path: "a.b"}.Validate(), false},
		{"lookup empty path", LookupSpec{Op: LookupGet}.Validate(), true},
		{"lookup bad op", LookupSpec{Op: LookupOp(99), Path: "a"}.Validate(), true},
		{"valid mutate", MutateSpec{Op: MutateUpsert, Path: "a", Value: 1}.Validate(), false},
		{"mutate empty path", MutateSpec{Op: MutateRemove}.Validate(), true},
		{"mutate bad op", MutateSpec{Op: MutateOp(99), Path: "a"}.Validate(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if (tt.err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", tt.err, tt.wantErr)
			}
			if tt.wantErr && !cberr.IsReason(tt.err, cberr.ReasonInvalidArgument) {
				t.Errorf("Validate() reason = %v, want invalid_argument", cberr.ReasonOf(tt.err))
			}
		})
	}
}

func TestWireSpecs(t *testing.T) {
	lookup := LookupSpec{Op: LookupCount, Path: "tags"}.WireSpec()
	if lookup["op"] != "count" || lookup["path"] != "tags" {
		t.Errorf("lookup WireSpec() = %v", lookup)
	}

	remove := MutateSpec{Op: MutateRemove, Path: "old", Value: "ignored"}.WireSpec()
	if _, ok := remove["value"]; ok {
		t.Errorf("remove WireSpec() carries a value: %v", remove)
	}

	incr := MutateSpec{Op: MutateIncrement, Path: "visits", Value: 2}.WireSpec()
	if incr["op"] != "increment" || incr["value"] != 2 {
		t.Errorf("increment WireSpec() = %v", incr)
	}
}

func TestLookupInResultDecodeField(t *testing.T) {
	result := &LookupInResult{Fields: []LookupField{
		{Path: "name", Exists: true, Value: json.RawMessage(`"alice"`)},
		{Path: "missing", Exists: false},
	}}

	var name string
	if err := result.DecodeField(0, &name); err != nil {
		t.Fatalf("DecodeField(0) error = %v", err)
	}
	if name != "alice" {
		t.Errorf("DecodeField(0) = %q, want alice", name)
	}

	var out any
	if err := result.DecodeField(1, &out); !cberr.IsReason(err, cberr.ReasonPathNotFound) {
		t.Errorf("DecodeField(1) reason = %v, want path_not_found", cberr.ReasonOf(err))
	}
	if err := result.DecodeField(5, &out); !cberr.IsReason(err, cberr.ReasonInvalidArgument) {
		t.Errorf("DecodeField(5) reason = %v, want invalid_argument", cberr.ReasonOf(err))
	}
}

func TestDocumentDecode(t *testing.T) {
	doc := &Document{Key: "u::1", Content: json.RawMessage(`{"name":"bob"}`)}

	var decoded struct {
		Name string `json:"name"`
	}
	if err := doc.Decode(&decoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Name != "bob" {
		t.Errorf("Decode() name = %q, want bob", decoded.Name)
	}

	broken := &Document{Key: "u::2", Content: json.RawMessage(`{"name":`)}
	if err := broken.Decode(&decoded); !cberr.IsReason(err, cberr.ReasonDecodingFailure) {
		t.Errorf("Decode() reason = %v, want decoding_failure", cberr.ReasonOf(err))
	}
}
