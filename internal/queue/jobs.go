// Package queue defines the background jobs ScanVault schedules and the asynq
// client that enqueues them.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// VerifyUploadTask is scheduled each time a scan record is created.
	VerifyUploadTask = "scan:verify"
)

// VerifyPayload tells the verifier which blob to fetch and what it must match.
type VerifyPayload struct {
	ScanID  string `json:"scan_id"`
	Address string `json:"address"`
	SHA256  string `json:"sha256"`
	Size    int64  `json:"size"`
}

// NewVerifyTask serializes the payload into an asynq task.
func NewVerifyTask(payload VerifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(VerifyUploadTask, data), nil
}

// ParseVerifyPayload decodes a task payload.
func ParseVerifyPayload(task *asynq.Task) (VerifyPayload, error) {
	var payload VerifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return VerifyPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	if payload.ScanID == "" || payload.Address == "" {
		return VerifyPayload{}, fmt.Errorf("decode payload: scan_id and address are required")
	}
	return payload, nil
}

// Client enqueues verification jobs onto Redis.
type Client struct {
	client *asynq.Client
}

// NewClient wraps an asynq client.
func NewClient(client *asynq.Client) *Client {
	return &Client{client: client}
}

// EnqueueVerify enqueues an upload verification job.
func (c *Client) EnqueueVerify(ctx context.Context, payload VerifyPayload) error {
	task, err := NewVerifyTask(payload)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue verify task: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
