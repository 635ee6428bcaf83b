package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// ImagePayload carries raw image bytes on the wire. It accepts either a
// data URI ("data:image/png;base64,iVBOR...") or a bare base64 string,
// and always marshals back out as a data URI.
type ImagePayload struct {
	MediaType string
	Data      []byte
}

func (p *ImagePayload) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return fmt.Errorf("empty image payload")
	}

	if strings.HasPrefix(s, "data:") {
		return p.parseDataURI(s)
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("image payload is neither a data URI nor base64: %w", err)
	}
	p.MediaType = "image/jpeg"
	p.Data = raw
	return nil
}

func (p ImagePayload) MarshalJSON() ([]byte, error) {
	mt := p.MediaType
	if mt == "" {
		mt = "image/jpeg"
	}
	uri := "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
	return json.Marshal(uri)
}

func (p *ImagePayload) parseDataURI(uri string) error {
	// format: data:[<media type>][;base64],<data>
	comma := strings.Index(uri, ",")
	if comma == -1 {
		return fmt.Errorf("invalid data URI")
	}

	meta := uri[:comma]
	payload := uri[comma+1:]

	mediaType := "image/jpeg"
	parts := strings.Split(meta, ";")
	if len(parts) > 0 && strings.HasPrefix(parts[0], "data:") && len(parts[0]) > 5 {
		mediaType = parts[0][5:]
	}

	isBase64 := false
	for _, part := range parts {
		if part == "base64" {
			isBase64 = true
			break
		}
	}
	if !isBase64 {
		return fmt.Errorf("only base64 data URIs are supported for images")
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("decode data URI: %w", err)
	}

	p.MediaType = mediaType
	p.Data = raw
	return nil
}
