package storage

import (
	"encoding/json"
	"io"
)

// Content types written by the gateway.
const (
	ContentTypeNDJSON = "application/x-ndjson"
	ContentTypeJSON   = "application/json"
	ContentTypeText   = "text/plain; charset=utf-8"
)

// Payload is content ready to be staged and uploaded.
type Payload struct {
	ContentType string
	write       func(w io.Writer) error
}

// Encode serializes the payload to w.
func (p Payload) Encode(w io.Writer) error {
	if p.write == nil {
		return nil
	}
	return p.write(w)
}

// NDJSON serializes records as newline-delimited JSON, one record per line.
func NDJSON[T any](records []T) Payload {
	return Payload{
		ContentType: ContentTypeNDJSON,
		write: func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetEscapeHTML(false)
			for _, r := range records {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// JSON serializes v as a single indented JSON document.
func JSON(v any) Payload {
	return Payload{
		ContentType: ContentTypeJSON,
		write: func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}
}

// Text uploads b verbatim.
func Text(b []byte) Payload {
	return Payload{
		ContentType: ContentTypeText,
		write: func(w io.Writer) error {
			_, err := w.Write(b)
			return err
		},
	}
}
