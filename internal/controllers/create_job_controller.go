package controllers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/osvaldoandrade/ebookpdf/internal/services"
	"github.com/osvaldoandrade/ebookpdf/pkg/domain"

	"github.com/gin-gonic/gin"
)

const (
	emptyUploadMessage = "The file must not be empty."
	uploadTooLarge     = "The file is too large."
)

type createJobController struct {
	svc               services.ConversionService
	maxUploadBytes    int64
	trustProxyHeaders bool
}

func NewCreateJobController(svc services.ConversionService, maxUploadBytes int64, trustProxyHeaders bool) *createJobController {
	return &createJobController{svc: svc, maxUploadBytes: maxUploadBytes, trustProxyHeaders: trustProxyHeaders}
}

func (h *createJobController) Handle(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	fh, err := c.FormFile("cookies")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			c.String(http.StatusRequestEntityTooLarge, uploadTooLarge)
			return
		}
		c.String(http.StatusOK, emptyUploadMessage)
		return
	}
	cookie, err := readUpload(fh)
	if err != nil {
		c.String(http.StatusOK, emptyUploadMessage)
		return
	}

	req := domain.ConversionRequest{
		CookieData: cookie,
		TargetURL:  c.PostForm("baseUrl"),
		PageSpec:   c.PostForm("pages"),
		RequestID:  c.GetString("request_id"),
	}

	jobID := h.svc.NewJobID()
	header := c.Writer.Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("X-Job-Id", jobID)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	outcome := h.svc.Convert(c.Request.Context(), jobID, req, &flushWriter{w: c.Writer})
	if !outcome.Succeeded {
		return
	}
	link := fmt.Sprintf("\nDownload at: %s://%s/%s", h.scheme(c), c.Request.Host, outcome.DownloadPath)
	if _, err := c.Writer.WriteString(link); err != nil {
		loggerFrom(c).Debug("download link not delivered", "job_id", jobID, "err", err)
		return
	}
	c.Writer.Flush()
}

func (h *createJobController) scheme(c *gin.Context) string {
	if h.trustProxyHeaders {
		if p := strings.TrimSpace(strings.Split(c.GetHeader("X-Forwarded-Proto"), ",")[0]); p != "" {
			return strings.ToLower(p)
		}
	}
	if c.Request.TLS != nil {
		return "https"
	}
	return "http"
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// flushWriter pushes every converter chunk to the client as soon as it is written.
type flushWriter struct {
	w gin.ResponseWriter
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	f.w.Flush()
	return n, nil
}

func loggerFrom(c *gin.Context) *slog.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
