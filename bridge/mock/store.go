package mock

import (
	"encoding/json"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/thanos/couchbase-ex/bridge/common"
)

// Provider error codes the mock emits. The legacy memcached spellings are
// used on purpose: real workers still produce them and the classifier has
// to cope either way.
const (
	codeKeyNotFound  = "KEY_ENOENT"
	codeKeyExists    = "KEY_EEXISTS"
	codePathNotFound = "SUBDOC_PATH_ENOENT"
	codePathExists   = "SUBDOC_PATH_EEXISTS"
	codePathMismatch = "SUBDOC_PATH_MISMATCH"
	codeDocNotJSON   = "DOC_NOT_JSON"
	codeInvalidArgs  = "InvalidArguments"
)

// docStore is the in-memory bucket of the mock worker. Documents are kept
// as raw JSON so get can echo back exactly what was stored.
type docStore struct {
	docs *xsync.MapOf[string, []byte]
	cas  uint64 // Atomic counter, bumped on every mutation
}

func newDocStore() *docStore {
	return &docStore{
		docs: xsync.NewMapOf[string, []byte](),
	}
}

func (s *docStore) nextCas() uint64 {
	return atomic.AddUint64(&s.cas, 1)
}

// --------------------------------------------------------------------------
// Key/Value Handlers
// --------------------------------------------------------------------------

func (s *docStore) handleGet(cmd *common.Command) *common.Response {
	key, ok := stringParam(cmd, "key")
	if !ok || key == "" {
		return common.NewErrorResponse(cmd.RequestID, codeInvalidArgs, "get requires a key")
	}

	doc, found := s.docs.Load(key)
	if !found {
		return common.NewErrorResponse(cmd.RequestID, codeKeyNotFound, "document not found")
	}
	return dataResponse(cmd.RequestID, json.RawMessage(doc))
}

// handleStore covers the four full-document write verbs. Insert and replace
// are conditional, set and upsert are not.
func (s *docStore) handleStore(cmd *common.Command) *common.Response {
	key, ok := stringParam(cmd, "key")
	if !ok || key == "" {
		return common.NewErrorResponse(cmd.RequestID, codeInvalidArgs, cmd.Verb.String()+" requires a key")
	}
	value, ok := cmd.Params["value"]
	if !ok {
		return common.NewErrorResponse(cmd.RequestID, codeInvalidArgs, cmd.Verb.String()+" requires a value")
	}
	doc, err := json.Marshal(value)
	if err != nil {
		return common.NewErrorResponse(cmd.RequestID, codeDocNotJSON, err.Error())
	}

	switch cmd.Verb {
	case common.VerbInsert:
		if _, loaded := s.docs.LoadOrStore(key, doc); loaded {
			return common.NewErrorResponse(cmd.RequestID, codeKeyExists, "document already exists")
		}
	case common.VerbReplace:
		replaced := false
		s.docs.Compute(key, func(old []byte, loaded bool) ([]byte, bool) {
			if !loaded {
				return nil, true // Keep the key absent
			}
			replaced = true
			return doc, false
		})
		if !replaced {
			return common.NewErrorResponse(cmd.RequestID, codeKeyNotFound, "document not found")
		}
	default: // set, upsert
		s.docs.Store(key, doc)
	}
	return dataResponse(cmd.RequestID, map[string]any{"cas": s.nextCas()})
}

func (s *docStore) handleDelete(cmd *common.Command) *common.Response {
	key, ok := stringParam(cmd, "key")
	if !ok || key == "" {
		return common.NewErrorResponse(cmd.RequestID, codeInvalidArgs, "delete requires a key")
	}

	if _, found := s.docs.LoadAndDelete(key); !found {
		return common.NewErrorResponse(cmd.RequestID, codeKeyNotFound, "document not found")
	}
	return dataResponse(cmd.RequestID, map[string]any{"cas": s.nextCas()})
}

func (s *docStore) handleExists(cmd *common.Command) *common.Response {
	key, ok := stringParam(cmd, "key")
	if !ok || key == "" {
		return common.NewErrorResponse(cmd.RequestID, codeInvalidArgs, "exists requires a key")
	}

	_, found := s.docs.Load(key)
	return dataResponse(cmd.RequestID, found)
}
