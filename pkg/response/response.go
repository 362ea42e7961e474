package response

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/estate-erp-api/internal/models"
	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
)

// Envelope is the JSON body shared by every non-file response.
type Envelope struct {
	Data       interface{}            `json:"data,omitempty"`
	Error      *appErrors.Error       `json:"error,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// File describes a downloadable artifact.
type File struct {
	Name     string
	MIMEType string
	// Headers are extra response headers such as X-Export-Scope.
	Headers map[string]string
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}

// JSON writes data inside the envelope. Query results carry pagination and
// per-request meta (scope, layers).
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination, meta ...map[string]interface{}) {
	noStore(c)
	envelope := Envelope{Data: data, Pagination: pagination}
	if len(meta) > 0 && meta[0] != nil {
		envelope.Meta = meta[0]
	}
	c.JSON(status, envelope)
}

// Accepted answers 202 for work handed to the background queue.
func Accepted(c *gin.Context, data interface{}) {
	JSON(c, http.StatusAccepted, data, nil)
}

func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	noStore(c)
	c.JSON(appErr.Status, Envelope{Error: appErr})
}

// Attachment sends an in-memory artifact as a download.
func Attachment(c *gin.Context, file File, data []byte) {
	attachmentHeaders(c, file)
	c.Data(http.StatusOK, file.MIMEType, data)
}

// AttachmentFrom streams size bytes of r as a download.
func AttachmentFrom(c *gin.Context, file File, size int64, r io.Reader) {
	attachmentHeaders(c, file)
	c.DataFromReader(http.StatusOK, size, file.MIMEType, r, nil)
}

func attachmentHeaders(c *gin.Context, file File) {
	noStore(c)
	c.Header("Content-Disposition", ContentDisposition(file.Name))
	for k, v := range file.Headers {
		c.Header(k, v)
	}
}

// ContentDisposition quotes name for an attachment header. Quotes, backslashes
// and control characters are dropped so a filename cannot break the header.
func ContentDisposition(name string) string {
	clean := strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if clean == "" {
		clean = "export"
	}
	return fmt.Sprintf("attachment; filename=%q", clean)
}
