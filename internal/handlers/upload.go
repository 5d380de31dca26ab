package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
}

type uploadError struct {
	status  int
	message string
}

// readImage reads one multipart image and checks its declared type, size and
// that it decodes.
func (h *handler) readImage(c *gin.Context, field, label string) ([]byte, *uploadError) {
	title := capitalize(label)

	file, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return nil, &uploadError{http.StatusRequestEntityTooLarge, "Request body too large"}
		}
		return nil, &uploadError{http.StatusBadRequest, fmt.Sprintf("%s image is required", title)}
	}

	declared := file.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil || !allowedImageTypes[mediaType] {
		return nil, &uploadError{http.StatusUnsupportedMediaType, fmt.Sprintf("%s image must be JPEG or PNG. Got: %s", title, declared)}
	}

	if file.Size > h.maxBytes {
		return nil, &uploadError{http.StatusRequestEntityTooLarge, fmt.Sprintf("%s image too large. Max size: %dMB", title, h.maxBytes>>20)}
	}

	src, err := file.Open()
	if err != nil {
		return nil, &uploadError{http.StatusBadRequest, fmt.Sprintf("unable to open %s image", label)}
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.maxBytes+1))
	if err != nil {
		h.logger.Warn("failed to read upload", zap.String("field", field), zap.Error(err))
		return nil, &uploadError{http.StatusInternalServerError, fmt.Sprintf("failed to read %s image", label)}
	}
	if int64(len(data)) > h.maxBytes {
		return nil, &uploadError{http.StatusRequestEntityTooLarge, fmt.Sprintf("%s image too large. Max size: %dMB", title, h.maxBytes>>20)}
	}

	if err := h.uc.ValidateImage(data); err != nil {
		return nil, &uploadError{http.StatusBadRequest, fmt.Sprintf("Invalid %s image data", label)}
	}
	return data, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
