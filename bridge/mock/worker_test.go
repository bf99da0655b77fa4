package mock

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/thanos/couchbase-ex/bridge/common"
)

// cmdLine stamps and encodes a command as one wire line.
func cmdLine(t *testing.T, cmd *common.Command, id uint64) string {
	t.Helper()
	cmd.Stamp(id)
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("Failed to encode command: %v", err)
	}
	return string(data)
}

// runWorker feeds the given lines to an in-process worker and returns the
// raw output lines together with Run's error.
func runWorker(t *testing.T, faults Faults, lines ...string) ([]string, error) {
	t.Helper()
	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")

	err := Run(Config{ConnectionString: "couchbase://localhost", Bucket: "test"}, faults, in, &out)

	raw := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(raw) == 1 && raw[0] == "" {
		raw = nil
	}
	return raw, err
}

// decodeResponses parses every output line after the ready sentinel and
// indexes the responses by request id.
func decodeResponses(t *testing.T, lines []string) map[uint64]*common.Response {
	t.Helper()
	if len(lines) == 0 || lines[0] != common.ReadySentinel {
		t.Fatalf("worker did not start with the ready line, got %v", lines)
	}

	responses := make(map[uint64]*common.Response)
	for _, line := range lines[1:] {
		var resp common.Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("Failed to decode response line %q: %v", line, err)
		}
		responses[resp.RequestID] = &resp
	}
	return responses
}

func TestWorkerReadyLine(t *testing.T) {
	lines, err := runWorker(t, Faults{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(lines) != 1 || lines[0] != common.ReadySentinel {
		t.Errorf("output = %v, want exactly the ready line", lines)
	}
}

func TestWorkerKVFlow(t *testing.T) {
	lines, err := runWorker(t, Faults{},
		cmdLine(t, common.NewStoreCommand(common.VerbSet, "u::1", map[string]any{"name": "alice"}), 1),
		cmdLine(t, common.NewGetCommand("u::1"), 2),
		cmdLine(t, common.NewExistsCommand("u::1"), 3),
		cmdLine(t, common.NewDeleteCommand("u::1"), 4),
		cmdLine(t, common.NewGetCommand("u::1"), 5),
		cmdLine(t, common.NewExistsCommand("u::1"), 6),
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	responses := decodeResponses(t, lines)

	if !responses[1].Success {
		t.Errorf("set failed: %+v", responses[1])
	}
	if !responses[2].Success {
		t.Fatalf("get failed: %+v", responses[2])
	}
	var doc map[string]string
	if err := json.Unmarshal(responses[2].Data, &doc); err != nil || doc["name"] != "alice" {
		t.Errorf("get returned %s, want the stored document", responses[2].Data)
	}
	if string(responses[3].Data) != "true" {
		t.Errorf("exists = %s, want true", responses[3].Data)
	}
	if !responses[4].Success {
		t.Errorf("delete failed: %+v", responses[4])
	}
	if responses[5].Success || responses[5].Error == nil || responses[5].Error.Code != codeKeyNotFound {
		t.Errorf("get after delete = %+v, want %s", responses[5], codeKeyNotFound)
	}
	if string(responses[6].Data) != "false" {
		t.Errorf("exists after delete = %s, want false", responses[6].Data)
	}
}

func TestWorkerConditionalWrites(t *testing.T) {
	lines, err := runWorker(t, Faults{},
		cmdLine(t, common.NewStoreCommand(common.VerbInsert, "k", 1), 1),
		cmdLine(t, common.NewStoreCommand(common.VerbInsert, "k", 2), 2),
		cmdLine(t, common.NewStoreCommand(common.VerbReplace, "missing", 3), 3),
		cmdLine(t, common.NewStoreCommand(common.VerbReplace, "k", 4), 4),
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	responses := decodeResponses(t, lines)

	if !responses[1].Success {
		t.Errorf("first insert failed: %+v", responses[1])
	}
	if responses[2].Success || responses[2].Error.Code != codeKeyExists {
		t.Errorf("second insert = %+v, want %s", responses[2], codeKeyExists)
	}
	if responses[3].Success || responses[3].Error.Code != codeKeyNotFound {
		t.Errorf("replace of missing key = %+v, want %s", responses[3], codeKeyNotFound)
	}
	if !responses[4].Success {
		t.Errorf("replace of existing key failed: %+v", responses[4])
	}
}

func TestWorkerSubdocLookup(t *testing.T) {
	doc := map[string]any{
		"name": "alice",
		"tags": []any{"a", "b", "c"},
		"address": map[string]any{
			"city": "Vienna",
		},
	}
	lines, err := runWorker(t, Faults{},
		cmdLine(t, common.NewStoreCommand(common.VerbSet, "u::1", doc), 1),
		cmdLine(t, common.NewLookupInCommand("u::1", []map[string]any{
			{"op": "get", "path": "address.city"},
			{"op": "exists", "path": "name"},
			{"op": "exists", "path": "nope"},
			{"op": "count", "path": "tags"},
		}), 2),
		cmdLine(t, common.NewLookupInCommand("missing", []map[string]any{
			{"op": "get", "path": "x"},
		}), 3),
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	responses := decodeResponses(t, lines)

	var fields []struct {
		Path   string          `json:"path"`
		Exists bool            `json:"exists"`
		Value  json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(responses[2].Data, &fields); err != nil {
		t.Fatalf("Failed to decode lookup fields: %v", err)
	}
	if len(fields) != 4 {
		t.Fatalf("got %d fields, want 4", len(fields))
	}
	if string(fields[0].Value) != `"Vienna"` {
		t.Errorf("get city = %s, want \"Vienna\"", fields[0].Value)
	}
	if !fields[1].Exists || fields[2].Exists {
		t.Errorf("exists flags = %v/%v, want true/false", fields[1].Exists, fields[2].Exists)
	}
	if string(fields[3].Value) != "3" {
		t.Errorf("count tags = %s, want 3", fields[3].Value)
	}
	if responses[3].Success || responses[3].Error.Code != codeKeyNotFound {
		t.Errorf("lookup on missing doc = %+v, want %s", responses[3], codeKeyNotFound)
	}
}

func TestWorkerSubdocMutate(t *testing.T) {
	lines, err := runWorker(t, Faults{},
		cmdLine(t, common.NewStoreCommand(common.VerbSet, "u::1", map[string]any{
			"visits": 1,
			"tags":   []any{"a"},
		}), 1),
		cmdLine(t, common.NewMutateInCommand("u::1", []map[string]any{
			{"op": "upsert", "path": "name", "value": "alice"},
			{"op": "increment", "path": "visits", "value": 2},
			{"op": "array_append", "path": "tags", "value": "b"},
		}), 2),
		cmdLine(t, common.NewMutateInCommand("u::1", []map[string]any{
			{"op": "insert", "path": "name", "value": "bob"},
		}), 3),
		cmdLine(t, common.NewGetCommand("u::1"), 4),
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	responses := decodeResponses(t, lines)

	if !responses[2].Success {
		t.Fatalf("mutate failed: %+v", responses[2])
	}
	var result struct {
		Cas     uint64 `json:"cas"`
		Entries []struct {
			Path  string          `json:"path"`
			Value json.RawMessage `json:"value"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(responses[2].Data, &result); err != nil {
		t.Fatalf("Failed to decode mutate result: %v", err)
	}
	if result.Cas == 0 || len(result.Entries) != 3 {
		t.Errorf("mutate result = %+v, want cas and 3 entries", result)
	}
	if string(result.Entries[1].Value) != "3" {
		t.Errorf("increment entry = %s, want 3", result.Entries[1].Value)
	}

	// Insert on an existing path must fail without touching the document
	if responses[3].Success || responses[3].Error.Code != codePathExists {
		t.Errorf("insert on existing path = %+v, want %s", responses[3], codePathExists)
	}

	var doc struct {
		Name   string   `json:"name"`
		Visits float64  `json:"visits"`
		Tags   []string `json:"tags"`
	}
	if err := json.Unmarshal(responses[4].Data, &doc); err != nil {
		t.Fatalf("Failed to decode final document: %v", err)
	}
	if doc.Name != "alice" || doc.Visits != 3 || len(doc.Tags) != 2 {
		t.Errorf("final document = %+v", doc)
	}
}

func TestWorkerQueryRows(t *testing.T) {
	lines, err := runWorker(t, Faults{},
		cmdLine(t, common.NewQueryCommand("SELECT 1", nil), 1),
		cmdLine(t, common.NewQueryCommand("SELECT * WHERE x = $1 AND y = $2", []any{"a", "b"}), 2),
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	responses := decodeResponses(t, lines)

	var rows []json.RawMessage
	if err := json.Unmarshal(responses[1].Data, &rows); err != nil || len(rows) != 1 {
		t.Errorf("argless query rows = %s, want 1 row", responses[1].Data)
	}
	if err := json.Unmarshal(responses[2].Data, &rows); err != nil || len(rows) != 2 {
		t.Errorf("two-arg query rows = %s, want 2 rows", responses[2].Data)
	}
}

func TestWorkerHealthReports(t *testing.T) {
	lines, err := runWorker(t, Faults{},
		cmdLine(t, common.NewPingCommand("report-1"), 1),
		cmdLine(t, common.NewDiagnosticsCommand("report-2"), 2),
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	responses := decodeResponses(t, lines)

	for id, wantReport := range map[uint64]string{1: "report-1", 2: "report-2"} {
		var report struct {
			ReportID string `json:"report_id"`
			Services []struct {
				Service string `json:"service"`
				State   string `json:"state"`
			} `json:"services"`
		}
		if err := json.Unmarshal(responses[id].Data, &report); err != nil {
			t.Fatalf("Failed to decode report %d: %v", id, err)
		}
		if report.ReportID != wantReport {
			t.Errorf("report_id = %q, want %q", report.ReportID, wantReport)
		}
		if len(report.Services) == 0 {
			t.Errorf("report %d has no services", id)
		}
	}
}

func TestWorkerSalvagesRequestID(t *testing.T) {
	lines, err := runWorker(t, Faults{},
		`{"command":"bogus","params":{},"request_id":9,"timestamp":1}`,
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	responses := decodeResponses(t, lines)

	resp, ok := responses[9]
	if !ok {
		t.Fatalf("no response for the salvaged request id, got %v", lines)
	}
	if resp.Success || resp.Error == nil || resp.Error.Code != codeInvalidArgs {
		t.Errorf("response = %+v, want an %s error", resp, codeInvalidArgs)
	}
}

func TestWorkerCloseStopsLoop(t *testing.T) {
	lines, err := runWorker(t, Faults{},
		cmdLine(t, common.NewCloseCommand(), 1),
		cmdLine(t, common.NewGetCommand("never-read"), 2),
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	responses := decodeResponses(t, lines)

	if !responses[1].Success {
		t.Errorf("close response = %+v", responses[1])
	}
	if _, answered := responses[2]; answered {
		t.Errorf("command after close was answered")
	}
}

func TestWorkerFaults(t *testing.T) {
	t.Run("crash-start", func(t *testing.T) {
		lines, err := runWorker(t, Faults{Behavior: BehaviorCrashStart})
		if !errors.Is(err, errCrash) {
			t.Errorf("Run() error = %v, want crash", err)
		}
		if len(lines) != 0 {
			t.Errorf("crash-start produced output: %v", lines)
		}
	})

	t.Run("silent", func(t *testing.T) {
		lines, err := runWorker(t, Faults{Behavior: BehaviorSilent},
			cmdLine(t, common.NewGetCommand("k"), 1),
		)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(lines) != 0 {
			t.Errorf("silent worker produced output: %v", lines)
		}
	})

	t.Run("no-reply", func(t *testing.T) {
		lines, err := runWorker(t, Faults{Behavior: BehaviorNoReply},
			cmdLine(t, common.NewGetCommand("k"), 1),
		)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(lines) != 1 || lines[0] != common.ReadySentinel {
			t.Errorf("no-reply output = %v, want only the ready line", lines)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		lines, err := runWorker(t, Faults{Behavior: BehaviorGarbage},
			cmdLine(t, common.NewStoreCommand(common.VerbSet, "k", 1), 1),
		)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(lines) != 3 {
			t.Fatalf("garbage output = %v, want ready + garbage + response", lines)
		}
		if json.Valid([]byte(lines[1])) {
			t.Errorf("expected a non-JSON line, got %q", lines[1])
		}
	})

	t.Run("crash-after", func(t *testing.T) {
		lines, err := runWorker(t, Faults{Behavior: BehaviorCrashAfter, CrashAfter: 1},
			cmdLine(t, common.NewStoreCommand(common.VerbSet, "k", 1), 1),
			cmdLine(t, common.NewGetCommand("k"), 2),
		)
		if !errors.Is(err, errCrash) {
			t.Fatalf("Run() error = %v, want crash", err)
		}
		responses := decodeResponses(t, lines)
		if _, ok := responses[1]; !ok {
			t.Errorf("first command was not answered before the crash")
		}
		if _, ok := responses[2]; ok {
			t.Errorf("second command was answered despite the crash")
		}
	})
}
