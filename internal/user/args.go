package user

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"chatcore/internal/chaterr"
	"chatcore/internal/state"
)

// checkArity fails wrongArgumentsCount unless args has exactly n elements.
func checkArity(args []json.RawMessage, n int) error {
	if len(args) != n {
		return chaterr.New(chaterr.WrongArgumentsCount, len(args), n)
	}
	return nil
}

func decodeString(raw json.RawMessage) (string, error) {
	var s string
	if err := strictUnmarshal(raw, &s); err != nil {
		return "", chaterr.New(chaterr.BadArgument)
	}
	return s, nil
}

func decodeBool(raw json.RawMessage) (bool, error) {
	var b bool
	if err := strictUnmarshal(raw, &b); err != nil {
		return false, chaterr.New(chaterr.BadArgument)
	}
	return b, nil
}

func decodeStringSlice(raw json.RawMessage) ([]string, error) {
	var vs []string
	if err := strictUnmarshal(raw, &vs); err != nil {
		return nil, chaterr.New(chaterr.BadArgument)
	}
	return vs, nil
}

// wireAttachmentIn is one attachment as it arrives on the wire, base64-encoded.
type wireAttachmentIn struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// wireMsgIn is a client-supplied message. Extra fields fail badArgument via
// strictUnmarshal (directMessage/roomMessage's "msg must have exactly that
// field set" rule, §4.5, extended with the optional attachments field).
type wireMsgIn struct {
	TextMessage string             `json:"textMessage"`
	Attachments []wireAttachmentIn `json:"attachments,omitempty"`
}

func decodeMsg(raw json.RawMessage) (wireMsgIn, error) {
	var m wireMsgIn
	if err := strictUnmarshal(raw, &m); err != nil {
		return wireMsgIn{}, chaterr.New(chaterr.BadArgument)
	}
	return m, nil
}

// strictUnmarshal decodes raw into v, failing on any field not present in
// v's type (DisallowUnknownFields) so that, e.g., a client-supplied msg with
// an extra field is rejected exactly as the wrong-type/wrong-shape case.
func strictUnmarshal(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeAttachments base64-decodes each wire attachment's data, failing
// badArgument on malformed base64. Content-sniffing and size enforcement
// happen in the caller once the configured attachmentsMaxBytes is in scope.
func decodeAttachments(ins []wireAttachmentIn) ([]attachmentUpload, error) {
	if len(ins) == 0 {
		return nil, nil
	}
	out := make([]attachmentUpload, 0, len(ins))
	for _, in := range ins {
		data, err := base64.StdEncoding.DecodeString(in.Data)
		if err != nil {
			return nil, chaterr.New(chaterr.BadArgument)
		}
		out = append(out, attachmentUpload{Name: in.Name, MimeType: in.MimeType, Data: data})
	}
	return out, nil
}

type attachmentUpload struct {
	Name     string
	MimeType string
	Data     []byte
}

// wireMsgOut is the shape a processed state.Message is re-encoded as before
// being acked or fanned out; it exists only to apply stable json field
// names independent of state.Message's msgpack tags.
func wireMsgOut(m state.Message) map[string]any {
	out := map[string]any{
		"textMessage": m.TextMessage,
		"timestamp":   m.Timestamp,
		"author":      m.Author,
	}
	if m.RenderedHTML != "" {
		out["renderedHTML"] = m.RenderedHTML
	}
	if len(m.Attachments) > 0 {
		out["attachments"] = m.Attachments
	}
	if m.Seq != 0 {
		out["seq"] = m.Seq
	}
	return out
}
