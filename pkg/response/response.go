package response

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/lineauth/pkg/errors"
)

// Response defines the base API payload.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo holds error details to send to clients.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success writes a JSON success response.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
	})
}

// Error writes a JSON error response derived from an AppError.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	c.JSON(status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    appErr.Code,
			Message: appErr.Message,
		},
	})
}

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.SiteName}}</title></head>
<body><p>{{.Message}}</p><p><a href="{{.HomeURL}}">{{.SiteName}}</a></p></body></html>
`))

// Page describes a terminal error page.
type Page struct {
	Message  string
	HomeURL  string
	SiteName string
}

// ErrorPage renders a minimal HTML page pointing the visitor back to the home page and aborts the request.
func ErrorPage(c *gin.Context, status int, page Page) {
	if status < http.StatusBadRequest {
		status = http.StatusBadRequest
	}
	if page.HomeURL == "" {
		page.HomeURL = "/"
	}
	if page.SiteName == "" {
		page.SiteName = page.HomeURL
	}

	var buf bytes.Buffer
	if err := errorPage.Execute(&buf, page); err != nil {
		c.AbortWithStatus(status)
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
	c.Abort()
}
