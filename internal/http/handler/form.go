package handler

import (
	"fmt"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"

	"lobbydocs/internal/service"
)

// metadataFields are the optional text fields of a document request.
// A nil field was not present in the request.
type metadataFields struct {
	Filename  *string `json:"filename"`
	LobbyName *string `json:"lobby_name"`
	Uploader  *string `json:"uploader"`
}

type argPeeker interface {
	Has(key string) bool
	Peek(key string) []byte
}

func peekArg(args argPeeker, key string) *string {
	if !args.Has(key) {
		return nil
	}
	v := string(args.Peek(key))
	return &v
}

func formValue(values map[string][]string, key string) *string {
	vs, ok := values[key]
	if !ok || len(vs) == 0 {
		return nil
	}
	v := vs[0]
	return &v
}

// parseDocumentForm reads metadata and the optional "file" part. Multipart bodies carry
// both; JSON and urlencoded bodies carry metadata only.
func parseDocumentForm(c *fiber.Ctx) (metadataFields, *multipart.FileHeader, error) {
	var m metadataFields
	ct := strings.ToLower(c.Get(fiber.HeaderContentType))

	switch {
	case strings.HasPrefix(ct, fiber.MIMEMultipartForm):
		form, err := c.MultipartForm()
		if err != nil {
			return m, nil, fmt.Errorf("%w: malformed multipart body", service.ErrInvalidInput)
		}
		m.Filename = formValue(form.Value, "filename")
		m.LobbyName = formValue(form.Value, "lobby_name")
		m.Uploader = formValue(form.Value, "uploader")
		if files := form.File["file"]; len(files) > 0 {
			return m, files[0], nil
		}
	case strings.HasPrefix(ct, fiber.MIMEApplicationJSON):
		if len(c.Body()) == 0 {
			return m, nil, nil
		}
		if err := c.BodyParser(&m); err != nil {
			return m, nil, fmt.Errorf("%w: malformed JSON body", service.ErrInvalidInput)
		}
	case strings.HasPrefix(ct, fiber.MIMEApplicationForm):
		args := c.Request().PostArgs()
		m.Filename = peekArg(args, "filename")
		m.LobbyName = peekArg(args, "lobby_name")
		m.Uploader = peekArg(args, "uploader")
	}
	return m, nil, nil
}

func derefOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

// openUpload opens fh as a service upload. The caller closes the returned file.
func openUpload(fh *multipart.FileHeader) (*service.FileUpload, multipart.File, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open uploaded file: %w", err)
	}
	return &service.FileUpload{
		Reader:      f,
		Name:        fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
	}, f, nil
}
