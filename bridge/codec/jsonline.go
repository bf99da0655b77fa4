package codec

import (
	"bytes"
	"encoding/json"

	"github.com/thanos/couchbase-ex/bridge/common"
	"github.com/thanos/couchbase-ex/lib/cberr"
)

// previewLen limits how much of a broken line ends up in error messages.
const previewLen = 120

// NewJSONLineCodec creates a new codec using newline-framed json encoding.
func NewJSONLineCodec() ICodec {
	return &jsonLineCodec{}
}

// jsonLineCodec implements the ICodec interface using json encoding
type jsonLineCodec struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c jsonLineCodec) EncodeCommand(cmd *common.Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		// json.Marshal escapes newlines inside strings, so a successfully
		// marshaled command is always exactly one line.
		return nil, cberr.Newf(cberr.ReasonEncodingFailure, "encode %s command: %v", cmd.Verb, err)
	}
	return append(data, '\n'), nil
}

func (c jsonLineCodec) DecodeResponse(line []byte, resp *common.Response) error {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return cberr.New(cberr.ReasonMalformedResponse, "decode response: empty line")
	}
	if err := json.Unmarshal(trimmed, resp); err != nil {
		return cberr.Newf(cberr.ReasonMalformedResponse, "decode response: %v (line: %s)", err, preview(trimmed))
	}
	return nil
}

// preview returns the line shortened for inclusion in an error message.
func preview(line []byte) string {
	if len(line) <= previewLen {
		return string(line)
	}
	return string(line[:previewLen]) + "..."
}
