package codec

import "github.com/thanos/couchbase-ex/bridge/common"

// ICodec is the interface for all wire codecs of the bridge protocol.
type ICodec interface {
	// EncodeCommand encodes a command into a single wire line including the
	// trailing newline. It returns the encoded line and an error if any.
	EncodeCommand(cmd *common.Command) ([]byte, error)
	// DecodeResponse decodes a single wire line (with or without the
	// trailing newline) into a response. It takes the raw line and a
	// pointer to a Response as parameters and returns an error if any.
	DecodeResponse(line []byte, resp *common.Response) error
}
