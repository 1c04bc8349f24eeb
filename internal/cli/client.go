package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Типы ответов (дублируются из api, CLI не импортирует internal/api) ---

// Job — документ задания в ответах API.
type Job struct {
	JobID           string       `json:"job_id"`
	UserID          string       `json:"user_id,omitempty"`
	Status          string       `json:"status"`
	Steps           []JobStep    `json:"steps"`
	Transitions     []Transition `json:"step_transitions"`
	RetryGeneration int          `json:"retry_generation"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// JobStep — шаг в документе задания.
type JobStep struct {
	Name           string            `json:"name"`
	Service        string            `json:"service"`
	Status         string            `json:"status"`
	ResolvedInputs map[string]string `json:"resolved_inputs,omitempty"`
	Produced       map[string]string `json:"produced_outputs,omitempty"`
	Error          *StepError        `json:"error,omitempty"`
	Instances      []JobStepInstance `json:"instances,omitempty"`
}

// JobStepInstance — инстанс fan-out шага.
type JobStepInstance struct {
	Index  int        `json:"index"`
	Status string     `json:"status"`
	Error  *StepError `json:"error,omitempty"`
}

// StepError — ошибка шага.
type StepError struct {
	Type    string `json:"error_type"`
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
}

// Transition — ребро конвейера.
type Transition struct {
	From    string            `json:"from_step_name"`
	To      string            `json:"to_step_name"`
	Mapping map[string]string `json:"output_to_input_mapping"`
}

// SubmitResponse — ответ на submit.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// RetryResponse — ответ на retry.
type RetryResponse struct {
	Status     string `json:"status"`
	ResumeStep string `json:"resume_step"`
}

// envelope — конверт ответов API.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *apiError       `json:"error"`
}

// apiError — ошибка API.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
	Field   string `json:"field,omitempty"`
}

// Client — HTTP-клиент API Waveline.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient создаёт клиент.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SubmitJob отправляет конвейер.
func (c *Client) SubmitJob(pipeline json.RawMessage) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.do(http.MethodPost, "/api/v1/jobs", pipeline, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetJob возвращает документ задания.
func (c *Client) GetJob(jobID string) (*Job, error) {
	var job Job
	if err := c.do(http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// RetryJob запускает retry.
func (c *Client) RetryJob(jobID string) (*RetryResponse, error) {
	var resp RetryResponse
	if err := c.do(http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/retry", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do выполняет запрос и распаковывает конверт.
func (c *Client) do(method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, raw)
	}

	if env.Error != nil {
		if env.Error.Step != "" {
			return fmt.Errorf("%s: step %s, field %s: %s",
				env.Error.Code, env.Error.Step, env.Error.Field, env.Error.Message)
		}
		return fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
