package bodyprocessors

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"

	"github.com/veilwaf/veil/internal/variables"
)

const maxPartBytes = 1 << 20

type multipartProcessor struct{}

func (multipartProcessor) ProcessRequest(body []byte, contentType string, store *variables.Store) error {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("multipart content type: %w", err)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return errors.New("multipart boundary missing")
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("multipart part: %w", err)
		}

		name := part.FormName()
		if filename := part.FileName(); filename != "" {
			if err := store.Add(variables.Files, name, filename); err != nil {
				return err
			}
			_, _ = io.Copy(io.Discard, part)
			continue
		}

		value, err := io.ReadAll(io.LimitReader(part, maxPartBytes))
		if err != nil {
			return fmt.Errorf("multipart field %q: %w", name, err)
		}
		if err := store.Add(variables.ArgsPost, name, string(value)); err != nil {
			return err
		}
	}
}
