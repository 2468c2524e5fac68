package remote

import (
	"fmt"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/model"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
)

// StatusError is a non-2xx answer from the runtime.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		return "something went wrong, please see the runtime logs for details"
	}
}

// Tensor is the wire form of a tensor: little-endian elements in dtype,
// base64 encoded by encoding/json.
type Tensor struct {
	Shape []int            `json:"shape"`
	DType tensor.Precision `json:"dtype"`
	Data  []byte           `json:"data"`
}

func FromTensor(t *tensor.Tensor, p tensor.Precision) *Tensor {
	return &Tensor{Shape: t.Shape, DType: p, Data: p.Marshal(t)}
}

func (w *Tensor) Tensor() (*tensor.Tensor, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: missing tensor", tensor.ErrShape)
	}
	p, err := tensor.ParsePrecision(string(w.DType))
	if err != nil {
		return nil, err
	}
	return p.Unmarshal(w.Shape, w.Data)
}

type DevicesResponse struct {
	Devices []model.Device `json:"devices"`
}

type LoadRequest struct {
	Model         string           `json:"model"`
	Device        string           `json:"device"`
	Precision     tensor.Precision `json:"precision"`
	SafetyChecker bool             `json:"safety_checker"`
}

type LoadResponse struct {
	Session        string `json:"session"`
	EmbeddingDim   int    `json:"embedding_dim"`
	LatentChannels int    `json:"latent_channels"`
	SampleSize     int    `json:"sample_size"`
}

type EncodeRequest struct {
	Session string    `json:"session"`
	IDs     [][]int32 `json:"ids"`
}

type DenoiseRequest struct {
	Session      string  `json:"session"`
	Latents      *Tensor `json:"latents"`
	Timestep     float64 `json:"timestep"`
	Conditioning *Tensor `json:"conditioning"`
}

type DecodeRequest struct {
	Session string  `json:"session"`
	Latents *Tensor `json:"latents"`
}

type TensorResponse struct {
	Tensor *Tensor `json:"tensor"`
}
