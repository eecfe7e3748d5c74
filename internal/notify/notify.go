// Package notify adapts the teacher's Discord webhook sender into a
// generic lifecycle-event notifier for promotions, drift triggers, and
// calibration alerts, optionally attaching a reliability-diagram image.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

type Client struct {
	WebhookURL string
	HTTP       *http.Client
	Logger     *slog.Logger
}

func NewClient(webhookURL string, logger *slog.Logger) *Client {
	return &Client{
		WebhookURL: webhookURL,
		HTTP:       &http.Client{Timeout: 10 * time.Second},
		Logger:     logger,
	}
}

// NotifyPromotion announces a successful or blocked promotion decision.
func (c *Client) NotifyPromotion(modelName, version, decision, reason string) {
	c.send(fmt.Sprintf("promotion: %s %s -> %s (%s)", modelName, version, decision, reason), "")
}

// NotifyDrift announces a feature- or model-drift trigger that started
// a retrain, with the reliability diagram attached when available.
func (c *Client) NotifyDrift(symbol, interval string, zScore float64, diagramPath string) {
	c.send(fmt.Sprintf("drift trigger: %s/%s z=%.2f", symbol, interval, zScore), diagramPath)
}

// NotifyCalibrationDegradation announces the calibration monitor
// detecting a worsening Brier/ECE trend for the production model.
func (c *Client) NotifyCalibrationDegradation(modelName string, brier, ece float64) {
	c.send(fmt.Sprintf("calibration degraded: %s brier=%.4f ece=%.4f", modelName, brier, ece), "")
}

func (c *Client) send(content, imagePath string) {
	if c.WebhookURL == "" {
		return
	}

	if imagePath == "" {
		c.sendSimpleText(content)
		return
	}

	if err := c.sendMultipart(content, imagePath); err != nil {
		c.Logger.Warn("notify: image attachment failed, falling back to text", "path", imagePath, "error", err)
		c.sendSimpleText(content)
	}
}

func (c *Client) sendSimpleText(content string) {
	payload := map[string]string{"content": content}
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		c.Logger.Error("notify: marshal payload", "error", err)
		return
	}

	resp, err := c.HTTP.Post(c.WebhookURL, "application/json", bytes.NewBuffer(jsonBody))
	if err != nil {
		c.Logger.Warn("notify: webhook post failed", "error", err)
		return
	}
	defer resp.Body.Close()
}

func (c *Client) sendMultipart(content, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if err := writer.WriteField("content", content); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.WebhookURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: bad status %s", resp.Status)
	}
	return nil
}
