package pipeline

import (
	"context"
	"errors"
	"path"
	"strconv"
	"strings"
)

type objectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string, meta map[string]string) error
}

// ObjectStoreEmitter mirrors outputs into a bucket under
// <prefix>/<run id>/<name>.
type ObjectStoreEmitter struct {
	Storage      objectWriter
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, name string, data []byte, format string, width, height int) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.RunID),
		name,
	)

	meta := map[string]string{"run-id": req.RunID, "width": strconv.Itoa(width), "height": strconv.Itoa(height)}
	if err := e.Storage.WriteObject(ctx, objectKey, data, contentTypeForFormat(format), meta); err != nil {
		return Output{}, err
	}

	return Output{
		Name:   name,
		Format: format,
		Path:   objectKey,
		Bytes:  len(data),
		Width:  width,
		Height: height,
	}, nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "watermarked"
	}
	return prefix
}

func contentTypeForFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}
