package api

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/dropwise/internal/uncertainty"
)

// UncertaintyRequest is the body of POST /v1/uncertainty.
type UncertaintyRequest struct {
	Model     string    `json:"model,omitempty"`
	Inputs    InputList `json:"inputs"`
	NumPasses *int      `json:"num_passes,omitempty"`
	Seed      *int64    `json:"seed,omitempty"`
	TaskType  string    `json:"task_type,omitempty"`
}

// InputList accepts either a single string or an array of strings.
type InputList []string

func (l *InputList) UnmarshalJSON(b []byte) error {
	if l == nil {
		return fmt.Errorf("inputs: nil receiver")
	}
	if len(b) == 0 || string(b) == "null" {
		*l = nil
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = InputList{s}
		return nil
	case '[':
		var items []string
		if err := json.Unmarshal(b, &items); err != nil {
			return fmt.Errorf("inputs must be an array of strings")
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("inputs must be a string or an array of strings")
	}
}

type UncertaintyResponse struct {
	ID        string               `json:"id"`
	Object    string               `json:"object"`
	CreatedAt int64                `json:"created_at"`
	Model     string               `json:"model"`
	TaskType  string               `json:"task_type"`
	Metric    string               `json:"metric"`
	NumPasses int                  `json:"num_passes"`
	Seed      *int64               `json:"seed,omitempty"`
	Results   []uncertainty.Record `json:"results"`
}

type ModelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type ModelList struct {
	Object string        `json:"object"`
	Data   []ModelObject `json:"data"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
