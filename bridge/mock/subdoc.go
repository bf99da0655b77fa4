package mock

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/thanos/couchbase-ex/bridge/common"
)

// The mock's path dialect: dot-separated segments, numeric segments index
// into arrays. "users.0.name" addresses root["users"][0]["name"].

// subdocError aborts a sub-document operation with a provider error code.
type subdocError struct {
	code string
	msg  string
}

func (e *subdocError) Error() string { return e.msg }

func pathErrorf(code, format string, args ...any) *subdocError {
	return &subdocError{code: code, msg: fmt.Sprintf(format, args...)}
}

// --------------------------------------------------------------------------
// Path Navigation
// --------------------------------------------------------------------------

// pathLoad walks the decoded document and returns the value at path.
func pathLoad(root any, path string) (any, bool) {
	current := root
	for _, seg := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// pathParent walks to the object holding the final path segment and returns
// it together with that segment. Intermediate segments may cross arrays,
// but the final container must be an object: the mock does not implement
// positional array writes.
func pathParent(root any, path string) (map[string]any, string, *subdocError) {
	segments := strings.Split(path, ".")
	last := segments[len(segments)-1]

	current := root
	for _, seg := range segments[:len(segments)-1] {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, "", pathErrorf(codePathNotFound, "path segment %q does not exist", seg)
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, "", pathErrorf(codePathNotFound, "array index %q out of range", seg)
			}
			current = node[idx]
		default:
			return nil, "", pathErrorf(codePathMismatch, "path segment %q crosses a scalar", seg)
		}
	}

	parent, ok := current.(map[string]any)
	if !ok {
		return nil, "", pathErrorf(codePathMismatch, "path %q does not end inside an object", path)
	}
	return parent, last, nil
}

// --------------------------------------------------------------------------
// Lookup Handler
// --------------------------------------------------------------------------

// handleLookupIn reads the requested paths out of a stored document. A
// missing path is not an error (the field is reported with exists=false);
// a type mismatch aborts the whole operation.
func (s *docStore) handleLookupIn(cmd *common.Command) *common.Response {
	key, specs, resp := s.subdocTarget(cmd)
	if resp != nil {
		return resp
	}

	doc, found := s.docs.Load(key)
	if !found {
		return common.NewErrorResponse(cmd.RequestID, codeKeyNotFound, "document not found")
	}
	var root any
	if err := json.Unmarshal(doc, &root); err != nil {
		return common.NewErrorResponse(cmd.RequestID, codeDocNotJSON, err.Error())
	}

	fields := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		op, path, err := specOpPath(spec)
		if err != nil {
			return common.NewErrorResponse(cmd.RequestID, err.code, err.msg)
		}

		value, exists := pathLoad(root, path)
		field := map[string]any{"path": path, "exists": exists}

		switch op {
		case "get":
			if exists {
				field["value"] = value
			}
		case "exists":
			// The exists flag is the whole answer
		case "count":
			if exists {
				switch node := value.(type) {
				case []any:
					field["value"] = len(node)
				case map[string]any:
					field["value"] = len(node)
				default:
					return common.NewErrorResponse(cmd.RequestID, codePathMismatch,
						fmt.Sprintf("count of non-container path %q", path))
				}
			}
		default:
			return common.NewErrorResponse(cmd.RequestID, codeInvalidArgs,
				fmt.Sprintf("unknown lookup operation %q", op))
		}
		fields = append(fields, field)
	}
	return dataResponse(cmd.RequestID, fields)
}

// --------------------------------------------------------------------------
// Mutation Handler
// --------------------------------------------------------------------------

// handleMutateIn applies the spec list to a stored document atomically: the
// whole mutation runs inside a single store computation, and the first
// failing spec aborts without writing anything back.
func (s *docStore) handleMutateIn(cmd *common.Command) *common.Response {
	key, specs, resp := s.subdocTarget(cmd)
	if resp != nil {
		return resp
	}

	var (
		entries  []map[string]any
		opErr    *subdocError
		notFound bool
	)
	s.docs.Compute(key, func(doc []byte, loaded bool) ([]byte, bool) {
		if !loaded {
			notFound = true
			return nil, true // Keep the key absent
		}

		var root any
		if err := json.Unmarshal(doc, &root); err != nil {
			opErr = pathErrorf(codeDocNotJSON, "%v", err)
			return doc, false
		}

		entries = make([]map[string]any, 0, len(specs))
		for _, spec := range specs {
			entry, err := applyMutateSpec(root, spec)
			if err != nil {
				opErr = err
				return doc, false // Abort, keep the old document
			}
			entries = append(entries, entry)
		}

		updated, err := json.Marshal(root)
		if err != nil {
			opErr = pathErrorf(codeDocNotJSON, "%v", err)
			return doc, false
		}
		return updated, false
	})

	switch {
	case notFound:
		return common.NewErrorResponse(cmd.RequestID, codeKeyNotFound, "document not found")
	case opErr != nil:
		return common.NewErrorResponse(cmd.RequestID, opErr.code, opErr.msg)
	}
	return dataResponse(cmd.RequestID, map[string]any{
		"cas":     s.nextCas(),
		"entries": entries,
	})
}

// applyMutateSpec applies one mutation spec in place and returns its result
// entry. The root must stay an object tree, so every write lands in a map
// reachable from root and mutates the shared structure directly.
func applyMutateSpec(root any, spec map[string]any) (map[string]any, *subdocError) {
	op, path, err := specOpPath(spec)
	if err != nil {
		return nil, err
	}
	value := spec["value"]

	parent, field, err := pathParent(root, path)
	if err != nil {
		return nil, err
	}
	existing, exists := parent[field]
	entry := map[string]any{"path": path}

	switch op {
	case "upsert":
		parent[field] = value
	case "insert":
		if exists {
			return nil, pathErrorf(codePathExists, "path %q already exists", path)
		}
		parent[field] = value
	case "replace":
		if !exists {
			return nil, pathErrorf(codePathNotFound, "path %q does not exist", path)
		}
		parent[field] = value
	case "remove":
		if !exists {
			return nil, pathErrorf(codePathNotFound, "path %q does not exist", path)
		}
		delete(parent, field)
	case "array_append", "array_prepend":
		arr, ok := existing.([]any)
		if exists && !ok {
			return nil, pathErrorf(codePathMismatch, "path %q is not an array", path)
		}
		if op == "array_append" {
			parent[field] = append(arr, value)
		} else {
			parent[field] = append([]any{value}, arr...)
		}
	case "increment":
		delta, ok := value.(float64)
		if !ok {
			return nil, pathErrorf(codeInvalidArgs, "increment delta for %q is not a number", path)
		}
		counter := float64(0)
		if exists {
			if counter, ok = existing.(float64); !ok {
				return nil, pathErrorf(codePathMismatch, "path %q is not a counter", path)
			}
		}
		counter += delta
		parent[field] = counter
		entry["value"] = counter
	default:
		return nil, pathErrorf(codeInvalidArgs, "unknown mutate operation %q", op)
	}
	return entry, nil
}

// --------------------------------------------------------------------------
// Spec Extraction
// --------------------------------------------------------------------------

// subdocTarget pulls the key and spec list out of a sub-document command.
// The third return value is non-nil if the command is malformed.
func (s *docStore) subdocTarget(cmd *common.Command) (string, []map[string]any, *common.Response) {
	key, ok := stringParam(cmd, "key")
	if !ok || key == "" {
		return "", nil, common.NewErrorResponse(cmd.RequestID, codeInvalidArgs, cmd.Verb.String()+" requires a key")
	}
	rawSpecs, ok := cmd.Params["specs"].([]any)
	if !ok || len(rawSpecs) == 0 {
		return "", nil, common.NewErrorResponse(cmd.RequestID, codeInvalidArgs, cmd.Verb.String()+" requires a spec list")
	}

	specs := make([]map[string]any, 0, len(rawSpecs))
	for _, raw := range rawSpecs {
		spec, ok := raw.(map[string]any)
		if !ok {
			return "", nil, common.NewErrorResponse(cmd.RequestID, codeInvalidArgs, "specs must be objects")
		}
		specs = append(specs, spec)
	}
	return key, specs, nil
}

// specOpPath extracts the op and path fields common to every spec.
func specOpPath(spec map[string]any) (string, string, *subdocError) {
	op, ok := spec["op"].(string)
	if !ok || op == "" {
		return "", "", pathErrorf(codeInvalidArgs, "spec is missing an op")
	}
	path, ok := spec["path"].(string)
	if !ok || path == "" {
		return "", "", pathErrorf(codeInvalidArgs, "spec is missing a path")
	}
	return op, path, nil
}
