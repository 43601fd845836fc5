package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/logomark/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeWatermarkFolder = "watermark:folder"

// WatermarkFolderPayload describes one whole batch; the worker processes it
// sequentially.
type WatermarkFolderPayload struct {
	RunID       string                 `json:"run_id"`
	WebhookURL  string                 `json:"webhook_url,omitempty"`
	Rasterizer  string                 `json:"rasterizer,omitempty"`
	Watermark   domain.WatermarkConfig `json:"watermark"`
	RequestedAt time.Time              `json:"requested_at"`
}

func NewWatermarkFolderTask(payload WatermarkFolderPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal watermark payload: %w", err)
	}
	return asynq.NewTask(TypeWatermarkFolder, body), nil
}

func ParseWatermarkFolderPayload(task *asynq.Task) (WatermarkFolderPayload, error) {
	var payload WatermarkFolderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return WatermarkFolderPayload{}, fmt.Errorf("unmarshal watermark payload: %w", err)
	}
	if payload.RunID == "" {
		return WatermarkFolderPayload{}, fmt.Errorf("watermark payload is missing run_id")
	}
	return payload, nil
}
