package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/savrin/waveline/internal/domain"
)

// StepContext — разрешённый контекст шага из hydrate API.
// Дублирует форму ответа API: воркер не импортирует internal/api.
type StepContext struct {
	JobID          string             `json:"job_id"`
	StepName       string             `json:"step_name"`
	InstanceIndex  *int               `json:"instance_index,omitempty"`
	Service        string             `json:"service"`
	StoragePolicy  string             `json:"storage_policy,omitempty"`
	CommandSpec    domain.CommandSpec `json:"command_spec"`
	ResolvedInputs map[string]string  `json:"resolved_inputs"`
	Outputs        map[string]string  `json:"outputs"`
	Parameters     map[string]any     `json:"parameters"`
	TimeoutSec     int                `json:"timeout_sec"`
	StepDir        string             `json:"step_dir"`
}

// hydrateEnvelope — конверт ответа API.
type hydrateEnvelope struct {
	Data StepContext `json:"data"`
}

// HydrateClient — HTTP-клиент hydrate API оркестратора.
type HydrateClient struct {
	baseURL string
	http    *http.Client
}

// NewHydrateClient создаёт клиент.
func NewHydrateClient(baseURL string) *HydrateClient {
	return &HydrateClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Hydrate забирает контекст шага у оркестратора.
func (c *HydrateClient) Hydrate(ctx context.Context, jobID, stepName string, instance *int) (*StepContext, error) {
	endpoint := fmt.Sprintf("%s/api/v1/jobs/%s/steps/%s/hydrate",
		c.baseURL, url.PathEscape(jobID), url.PathEscape(stepName))
	if instance != nil {
		endpoint += "?instance=" + strconv.Itoa(*instance)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHydrateFailed, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHydrateFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrHydrateFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrHydrateFailed, resp.StatusCode, body)
	}

	var envelope hydrateEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrHydrateFailed, err)
	}

	return &envelope.Data, nil
}
