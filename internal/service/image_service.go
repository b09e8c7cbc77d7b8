package service

import (
	"bytes"
	"context"
	"courseforge_backend/internal/config"
	"courseforge_backend/pkg/logger"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ImageGenService 图像生成客户端：提交任务后轮询取结果，
// 拿到临时下载链接再转存到自己的对象存储，避免外链过期。
type ImageGenService struct {
	config  config.ImageGenConfig
	storage StorageProvider
	client  *http.Client
}

func NewImageGenService(cfg config.ImageGenConfig, storage StorageProvider) *ImageGenService {
	return &ImageGenService{
		config:  cfg,
		storage: storage,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type imageSubmitRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
}

type imageSubmitResponse struct {
	TaskID string `json:"task_id"`
	ID     string `json:"id"`
}

type imageTaskResponse struct {
	Status string `json:"status"`
	Result struct {
		URL string `json:"url"`
	} `json:"result"`
	Error string `json:"error,omitempty"`
}

func (t *imageSubmitResponse) taskID() string {
	if t.TaskID != "" {
		return t.TaskID
	}
	return t.ID
}

// GenerateLessonImage 生成一张课时配图并转存，返回转存后的访问 URL
func (s *ImageGenService) GenerateLessonImage(ctx context.Context, lessonID, prompt string) (string, error) {
	srcURL, err := s.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	objectName := fmt.Sprintf("courses/%s/%s.png", lessonID, uuid.New().String())
	finalURL, err := s.rehost(ctx, srcURL, objectName)
	if err != nil {
		return "", fmt.Errorf("rehost image: %w", err)
	}
	return finalURL, nil
}

func (s *ImageGenService) generate(ctx context.Context, prompt string) (string, error) {
	taskID, err := s.submit(ctx, prompt)
	if err != nil {
		return "", err
	}

	interval := time.Duration(s.config.PollIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 3 * time.Second
	}
	maxAttempts := s.config.MaxPollAttempts
	if maxAttempts <= 0 {
		maxAttempts = 40
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}

		task, err := s.queryTask(ctx, taskID)
		if err != nil {
			logger.Log.Warn("查询图像任务失败", zap.String("task_id", taskID), zap.Error(err))
			continue
		}
		switch task.Status {
		case "succeeded", "success", "SUCCEEDED":
			if task.Result.URL == "" {
				return "", fmt.Errorf("image task %s succeeded without url", taskID)
			}
			return task.Result.URL, nil
		case "failed", "FAILED", "canceled":
			return "", fmt.Errorf("image task %s failed: %s", taskID, task.Error)
		}
	}
	return "", fmt.Errorf("image task %s timed out after %d polls", taskID, maxAttempts)
}

func (s *ImageGenService) submit(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(imageSubmitRequest{Model: s.config.Model, Prompt: prompt, Size: "1024*768"})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/images/generations", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image submit error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result imageSubmitResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", err
	}
	if result.taskID() == "" {
		return "", fmt.Errorf("image submit returned no task id")
	}
	return result.taskID(), nil
}

func (s *ImageGenService) queryTask(ctx context.Context, taskID string) (*imageTaskResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.BaseURL+"/tasks/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image query error (status %d): %s", resp.StatusCode, string(body))
	}

	var task imageTaskResponse
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// rehost 下载临时链接的图片并上传到对象存储
func (s *ImageGenService) rehost(ctx context.Context, srcURL, objectName string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download image failed (status %d)", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return s.storage.Upload(ctx, objectName, bytes.NewReader(data), int64(len(data)), contentType)
}
