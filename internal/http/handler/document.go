package handler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"lobbydocs/internal/model"
	"lobbydocs/internal/service"
	"lobbydocs/internal/storage"
)

// parseID returns false for anything that is not a positive integer; such ids can
// never match a record.
func parseID(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryInt(c *fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid %s", service.ErrInvalidInput, key)
	}
	return n, nil
}

// ListDocuments returns documents ordered by id.
//
//	@Summary	List documents
//	@Tags		documents
//	@Produce	json
//	@Param		lobby_name	query		string	false	"Exact lobby name"
//	@Param		limit		query		int		false	"Maximum number of documents"
//	@Param		offset		query		int		false	"Number of documents to skip"
//	@Success	200			{array}		model.Document
//	@Failure	400			{object}	errorPayload
//	@Router		/documents [get]
func ListDocuments(svc service.DocumentService, log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := queryInt(c, "limit")
		if err != nil {
			return writeServiceError(c, log, err)
		}
		offset, err := queryInt(c, "offset")
		if err != nil {
			return writeServiceError(c, log, err)
		}

		docs, err := svc.List(c.UserContext(), service.ListFilter{
			LobbyName: c.Query("lobby_name"),
			Limit:     limit,
			Offset:    offset,
		})
		if err != nil {
			return writeServiceError(c, log, err)
		}
		if docs == nil {
			docs = []model.Document{}
		}
		return c.JSON(docs)
	}
}

// CreateDocument stores an uploaded PDF with its metadata.
//
//	@Summary	Upload a document
//	@Tags		documents
//	@Accept		multipart/form-data
//	@Produce	json
//	@Param		file		formData	file	true	"PDF file"
//	@Param		filename	formData	string	false	"Display name"
//	@Param		lobby_name	formData	string	false	"Lobby name"
//	@Param		uploader	formData	string	false	"Uploader (default Anonymous)"
//	@Success	201			{object}	model.Document
//	@Failure	400			{object}	errorPayload
//	@Failure	500			{object}	errorPayload
//	@Router		/documents [post]
func CreateDocument(svc service.DocumentService, log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fields, fh, err := parseDocumentForm(c)
		if err != nil {
			return writeServiceError(c, log, err)
		}

		reqLog := log.WithField("request_id", requestIDFromCtx(c))
		received := logrus.Fields{
			"filename":   derefOr(fields.Filename, ""),
			"lobby_name": derefOr(fields.LobbyName, ""),
			"uploader":   derefOr(fields.Uploader, model.DefaultUploader),
		}
		if fh != nil {
			received["file_name"] = fh.Filename
			received["file_size"] = fh.Size
			received["content_type"] = fh.Header.Get(fiber.HeaderContentType)
		}
		reqLog.WithFields(received).Info("document upload received")

		in := service.CreateDocumentInput{
			Filename:  derefOr(fields.Filename, ""),
			LobbyName: derefOr(fields.LobbyName, ""),
			Uploader:  fields.Uploader,
		}
		if fh != nil {
			upload, f, err := openUpload(fh)
			if err != nil {
				return writeServiceError(c, log, err)
			}
			defer f.Close()
			in.File = upload
		}

		doc, err := svc.Create(c.UserContext(), in)
		if err != nil {
			reqLog.WithError(err).Warn("document upload rejected")
			return writeServiceError(c, log, err)
		}

		reqLog.WithFields(logrus.Fields{
			"document_id": doc.ID,
			"file":        doc.File,
		}).Info("document stored")
		return c.Status(fiber.StatusCreated).JSON(doc)
	}
}

// GetDocument returns one document.
//
//	@Summary	Get a document
//	@Tags		documents
//	@Produce	json
//	@Param		id	path		int	true	"Document id"
//	@Success	200	{object}	model.Document
//	@Failure	404	{object}	errorPayload
//	@Router		/documents/{id} [get]
func GetDocument(svc service.DocumentService, log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseID(c)
		if !ok {
			return writeError(c, fiber.StatusNotFound, msgNotFound)
		}
		doc, err := svc.Get(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, log, err)
		}
		return c.JSON(doc)
	}
}

// UpdateDocument handles both PUT (replace) and PATCH (partial) updates.
//
//	@Summary	Update a document
//	@Tags		documents
//	@Accept		multipart/form-data,json,x-www-form-urlencoded
//	@Produce	json
//	@Param		id			path		int		true	"Document id"
//	@Param		file		formData	file	false	"Replacement PDF file"
//	@Param		filename	formData	string	false	"Display name"
//	@Param		lobby_name	formData	string	false	"Lobby name"
//	@Param		uploader	formData	string	false	"Uploader"
//	@Success	200			{object}	model.Document
//	@Failure	400			{object}	errorPayload
//	@Failure	404			{object}	errorPayload
//	@Router		/documents/{id} [put]
//	@Router		/documents/{id} [patch]
func UpdateDocument(svc service.DocumentService, log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseID(c)
		if !ok {
			return writeError(c, fiber.StatusNotFound, msgNotFound)
		}
		fields, fh, err := parseDocumentForm(c)
		if err != nil {
			return writeServiceError(c, log, err)
		}

		in := service.UpdateDocumentInput{
			Filename:  fields.Filename,
			LobbyName: fields.LobbyName,
			Uploader:  fields.Uploader,
			Replace:   c.Method() == fiber.MethodPut,
		}
		if fh != nil {
			upload, f, err := openUpload(fh)
			if err != nil {
				return writeServiceError(c, log, err)
			}
			defer f.Close()
			in.File = upload
		}

		doc, err := svc.Update(c.UserContext(), id, in)
		if err != nil {
			return writeServiceError(c, log, err)
		}
		return c.JSON(doc)
	}
}

// DeleteDocument removes a document and its stored file.
//
//	@Summary	Delete a document
//	@Tags		documents
//	@Param		id	path	int	true	"Document id"
//	@Success	204
//	@Failure	404	{object}	errorPayload
//	@Router		/documents/{id} [delete]
func DeleteDocument(svc service.DocumentService, log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseID(c)
		if !ok {
			return writeError(c, fiber.StatusNotFound, msgNotFound)
		}
		if err := svc.Delete(c.UserContext(), id); err != nil {
			return writeServiceError(c, log, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// DownloadDocument streams the stored file as an attachment named after the record.
// With redirect=true it answers with a presigned storage URL instead.
//
//	@Summary	Download a document
//	@Tags		documents
//	@Produce	application/pdf
//	@Param		id			path	int		true	"Document id"
//	@Param		redirect	query	bool	false	"Redirect to a presigned URL"
//	@Success	200			{file}	binary
//	@Success	302
//	@Failure	404	{object}	errorPayload
//	@Router		/documents/{id}/download [get]
func DownloadDocument(svc service.DocumentService, log logrus.FieldLogger, urlTTL time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseID(c)
		if !ok {
			return writeError(c, fiber.StatusNotFound, msgNotFound)
		}

		if redirect, _ := strconv.ParseBool(c.Query("redirect")); redirect {
			u, err := svc.DownloadURL(c.UserContext(), id, urlTTL)
			if err != nil {
				return writeServiceError(c, log, err)
			}
			return c.Redirect(u, fiber.StatusFound)
		}

		d, err := svc.Download(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, log, err)
		}

		c.Set(fiber.HeaderContentType, d.Info.ContentType)
		c.Set(fiber.HeaderContentDisposition, storage.AttachmentDisposition(d.Document.Filename))
		size := -1
		if d.Info.Size > 0 {
			size = int(d.Info.Size)
		}
		// fasthttp closes the body once it has been written out.
		return c.SendStream(d.Body, size)
	}
}
