package response

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestContentDispositionStripsUnsafeCharacters(t *testing.T) {
	assert.Equal(t, `attachment; filename="leads.csv"`, ContentDisposition("leads.csv"))
	assert.Equal(t, `attachment; filename="badname.csv"`, ContentDisposition("bad\"name\r\n.csv"))
	assert.Equal(t, `attachment; filename="export"`, ContentDisposition("\"\\"))
}

func TestAttachmentSetsHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Attachment(c, File{Name: "deals.csv", MIMEType: "text/csv", Headers: map[string]string{"X-Row-Count": "3"}}, []byte("id\n1\n"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, `attachment; filename="deals.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "3", w.Header().Get("X-Row-Count"))
	assert.Equal(t, "id\n1\n", w.Body.String())
}

func TestAttachmentFromStreams(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	AttachmentFrom(c, File{Name: "units.pdf", MIMEType: "application/pdf"}, 4, strings.NewReader("%PDF"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "4", w.Header().Get("Content-Length"))
	assert.Equal(t, "%PDF", w.Body.String())
}

func TestErrorUsesAppErrorStatus(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, appErrors.ErrNotFound)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)
}
