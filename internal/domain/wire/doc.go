/*
Package wire serializes HTTP requests and responses so they can cross the
message channel between a caller and the broker.

# Body kinds

A body is captured as exactly one of five kinds, chosen from the
Content-Type header:

	application/json     JSON      parsed value
	text/plain           Text      string
	multipart/form-data  FormData  field name to string value
	anything else        Binary    raw bytes, when the length is known
	                     Stream    ordered chunks, when it is not

JSON, Text and FormData fall back to Binary when the bytes do not parse, so
capture never loses data. A body that cannot be read at all fails with
types.ErrUnsupportedBody.

# Printable binary strings

Binary data travels as a string with one character per byte: byte b becomes
the code point b (0-255). EncodeBinary and DecodeBinary are exact inverses
for every byte sequence. Chunk sizes are measured in these characters.

# Usage

	sr, err := wire.EncodeRequest(req)
	data, err := sonic.Marshal(sr)

	var back wire.SerializedRequest
	err = sonic.Unmarshal(data, &back)
	req, err = wire.DecodeRequest(ctx, &back)
*/
package wire
