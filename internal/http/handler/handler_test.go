package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lobbydocs/internal/logging"
	"lobbydocs/internal/model"
	"lobbydocs/internal/service"
	serviceMocks "lobbydocs/internal/service/mocks"
	"lobbydocs/internal/storage"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
}

// multipartBody builds a form with the given text fields and, when fileName is set, a "file" part.
func multipartBody(t *testing.T, fields map[string]string, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func decodeError(t *testing.T, r io.Reader) errorPayload {
	t.Helper()
	var res errorPayload
	require.NoError(t, json.NewDecoder(r).Decode(&res))
	return res
}

func TestHealthCheck(t *testing.T) {
	db, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	app := newApp()
	app.Get("/health", HealthCheck(db))

	t.Run("healthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(errors.New("db error"))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "dependency unavailable", decodeError(t, resp.Body).Error)
	})
}

func TestLivenessProbe(t *testing.T) {
	app := newApp()
	app.Get("/healthz", LivenessProbe())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListDocuments(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := newApp()
	app.Get("/documents", ListDocuments(mockSvc, logging.Discard()))

	t.Run("success", func(t *testing.T) {
		docs := []model.Document{{ID: 1, Filename: "a"}, {ID: 2, Filename: "b"}}
		mockSvc.On("List", mock.Anything, service.ListFilter{}).Return(docs, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents/", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result []model.Document
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
		require.Len(t, result, 2)
		assert.Equal(t, int64(1), result[0].ID)
		mockSvc.AssertExpectations(t)
	})

	t.Run("filter and paging", func(t *testing.T) {
		mockSvc.On("List", mock.Anything, service.ListFilter{LobbyName: "red", Limit: 5, Offset: 10}).
			Return([]model.Document{}, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents?lobby_name=red&limit=5&offset=10", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		raw, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `[]`, string(raw))
		mockSvc.AssertExpectations(t)
	})

	t.Run("invalid limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/documents?limit=abc", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid input: invalid limit", decodeError(t, resp.Body).Error)
	})

	t.Run("negative offset", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/documents?offset=-3", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc.On("List", mock.Anything, service.ListFilter{}).
			Return(nil, &service.StorageError{Op: "list documents", Err: errors.New("conn refused")}).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "internal server error", decodeError(t, resp.Body).Error)
		mockSvc.AssertExpectations(t)
	})
}

func TestCreateDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := newApp()
	app.Post("/documents", CreateDocument(mockSvc, logging.Discard()))

	t.Run("success", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"filename": "Report", "lobby_name": "red"}, "report.pdf", []byte("%PDF-1.7"))

		expectedDoc := &model.Document{ID: 1, File: "documents/x-report.pdf", Filename: "Report", LobbyName: "red", Uploader: "Anonymous"}
		mockSvc.On("Create", mock.Anything, mock.MatchedBy(func(in service.CreateDocumentInput) bool {
			return in.File != nil && in.File.Name == "report.pdf" && in.File.Size == 8 &&
				in.Filename == "Report" && in.LobbyName == "red" && in.Uploader == nil
		})).Return(expectedDoc, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/documents", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var result model.Document
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, *expectedDoc, result)
		mockSvc.AssertExpectations(t)
	})

	t.Run("explicit empty uploader is passed through", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"uploader": ""}, "a.pdf", []byte("x"))

		mockSvc.On("Create", mock.Anything, mock.MatchedBy(func(in service.CreateDocumentInput) bool {
			return in.Uploader != nil && *in.Uploader == ""
		})).Return(&model.Document{ID: 2}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/documents", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("no file", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"filename": "x"}, "", nil)

		mockSvc.On("Create", mock.Anything, mock.MatchedBy(func(in service.CreateDocumentInput) bool {
			return in.File == nil
		})).Return(nil, service.ErrFileRequired).Once()

		req := httptest.NewRequest(http.MethodPost, "/documents", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		raw, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `{"error":"File not found"}`, string(raw))
		mockSvc.AssertExpectations(t)
	})

	t.Run("validation error", func(t *testing.T) {
		body, ct := multipartBody(t, nil, "notes.txt", []byte("hello"))

		mockSvc.On("Create", mock.Anything, mock.Anything).
			Return(nil, &service.ValidationError{Field: "file", Message: "Only PDF files are allowed."}).Once()

		req := httptest.NewRequest(http.MethodPost, "/documents", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		res := decodeError(t, resp.Body)
		assert.Equal(t, "Only PDF files are allowed.", res.Error)
		assert.Equal(t, "file", res.Field)
		mockSvc.AssertExpectations(t)
	})

	t.Run("service error", func(t *testing.T) {
		body, ct := multipartBody(t, nil, "a.pdf", []byte("hello"))

		mockSvc.On("Create", mock.Anything, mock.Anything).
			Return(nil, &service.StorageError{Op: "upload to storage", Err: errors.New("bucket gone")}).Once()

		req := httptest.NewRequest(http.MethodPost, "/documents", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "internal server error", decodeError(t, resp.Body).Error)
		mockSvc.AssertExpectations(t)
	})
}

func TestGetDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := newApp()
	app.Get("/documents/:id", GetDocument(mockSvc, logging.Discard()))

	t.Run("success", func(t *testing.T) {
		expectedDoc := &model.Document{ID: 7, Filename: "test"}
		mockSvc.On("Get", mock.Anything, int64(7)).Return(expectedDoc, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents/7", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result model.Document
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, int64(7), result.ID)
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		mockSvc.On("Get", mock.Anything, int64(8)).Return(nil, service.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents/8", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Not found.", decodeError(t, resp.Body).Error)
		mockSvc.AssertExpectations(t)
	})

	t.Run("non-integer id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/documents/abc", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Not found.", decodeError(t, resp.Body).Error)
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc.On("Get", mock.Anything, int64(9)).Return(nil, errors.New("db error")).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents/9", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestUpdateDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := newApp()
	app.Put("/documents/:id", UpdateDocument(mockSvc, logging.Discard()))
	app.Patch("/documents/:id", UpdateDocument(mockSvc, logging.Discard()))

	t.Run("put multipart with file", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"filename": "New"}, "new.pdf", []byte("%PDF"))

		mockSvc.On("Update", mock.Anything, int64(3), mock.MatchedBy(func(in service.UpdateDocumentInput) bool {
			return in.Replace && in.File != nil && in.File.Name == "new.pdf" &&
				in.Filename != nil && *in.Filename == "New" && in.LobbyName == nil
		})).Return(&model.Document{ID: 3, Filename: "New"}, nil).Once()

		req := httptest.NewRequest(http.MethodPut, "/documents/3", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("patch json", func(t *testing.T) {
		mockSvc.On("Update", mock.Anything, int64(3), mock.MatchedBy(func(in service.UpdateDocumentInput) bool {
			return !in.Replace && in.File == nil && in.Filename == nil &&
				in.LobbyName != nil && *in.LobbyName == "blue"
		})).Return(&model.Document{ID: 3, LobbyName: "blue"}, nil).Once()

		req := httptest.NewRequest(http.MethodPatch, "/documents/3", strings.NewReader(`{"lobby_name":"blue"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var result model.Document
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, "blue", result.LobbyName)
		mockSvc.AssertExpectations(t)
	})

	t.Run("patch urlencoded", func(t *testing.T) {
		mockSvc.On("Update", mock.Anything, int64(4), mock.MatchedBy(func(in service.UpdateDocumentInput) bool {
			return in.Uploader != nil && *in.Uploader == "" && in.Filename == nil
		})).Return(&model.Document{ID: 4}, nil).Once()

		req := httptest.NewRequest(http.MethodPatch, "/documents/4", strings.NewReader("uploader="))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/documents/3", strings.NewReader(`{"lobby_name":`))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("non-pdf replacement", func(t *testing.T) {
		body, ct := multipartBody(t, nil, "new.png", []byte("png"))
		mockSvc.On("Update", mock.Anything, int64(5), mock.Anything).
			Return(nil, &service.ValidationError{Field: "file", Message: "Only PDF files are allowed."}).Once()

		req := httptest.NewRequest(http.MethodPatch, "/documents/5", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "file", decodeError(t, resp.Body).Field)
	})

	t.Run("not found", func(t *testing.T) {
		mockSvc.On("Update", mock.Anything, int64(404), mock.Anything).Return(nil, service.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodPatch, "/documents/404", strings.NewReader(`{"filename":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestDeleteDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := newApp()
	app.Delete("/documents/:id", DeleteDocument(mockSvc, logging.Discard()))

	t.Run("success", func(t *testing.T) {
		mockSvc.On("Delete", mock.Anything, int64(1)).Return(nil).Once()

		req := httptest.NewRequest(http.MethodDelete, "/documents/1", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		mockSvc.On("Delete", mock.Anything, int64(2)).Return(service.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodDelete, "/documents/2", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Not found.", decodeError(t, resp.Body).Error)
		mockSvc.AssertExpectations(t)
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc.On("Delete", mock.Anything, int64(3)).Return(errors.New("delete error")).Once()

		req := httptest.NewRequest(http.MethodDelete, "/documents/3", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestDownloadDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := newApp()
	app.Get("/documents/:id/download", DownloadDocument(mockSvc, logging.Discard(), 10*time.Minute))

	t.Run("streams with record filename", func(t *testing.T) {
		mockSvc.On("Download", mock.Anything, int64(1)).Return(&service.Download{
			Document: &model.Document{ID: 1, File: "documents/u-scan.pdf", Filename: "Quarterly Report"},
			Body:     io.NopCloser(strings.NewReader("%PDF-1.7 body")),
			Info:     storage.ObjectInfo{Size: 13, ContentType: "application/pdf"},
		}, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents/1/download", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, `attachment; filename="Quarterly Report"`, resp.Header.Get("Content-Disposition"))
		assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
		raw, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "%PDF-1.7 body", string(raw))
		mockSvc.AssertExpectations(t)
	})

	t.Run("redirect to presigned url", func(t *testing.T) {
		mockSvc.On("DownloadURL", mock.Anything, int64(2), 10*time.Minute).
			Return("https://blob.example/documents/u-scan.pdf?X-Amz-Signature=abc", nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents/2/download?redirect=true", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "https://blob.example/documents/u-scan.pdf?X-Amz-Signature=abc", resp.Header.Get("Location"))
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		mockSvc.On("Download", mock.Anything, int64(3)).Return(nil, service.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodGet, "/documents/3/download", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(_ context.Context) error { return p.err }

func TestRouting(t *testing.T) {
	app := newApp()
	mockSvc := new(serviceMocks.MockDocumentService)
	RegisterRoutes(app, stubPinger{}, mockSvc, logging.Discard(), time.Minute)

	t.Run("not found route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/non-existent", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Not found.", decodeError(t, resp.Body).Error)
	})

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Equal(t, "method not allowed", decodeError(t, resp.Body).Error)
	})

	t.Run("trailing slash is optional", func(t *testing.T) {
		mockSvc.On("Get", mock.Anything, int64(5)).Return(&model.Document{ID: 5}, nil).Twice()

		for _, path := range []string{"/documents/5", "/documents/5/"} {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			resp, _ := app.Test(req)
			assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		}
		mockSvc.AssertExpectations(t)
	})
}
