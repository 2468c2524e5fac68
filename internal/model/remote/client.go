// Package remote drives a diffusion runtime over HTTP. The runtime holds
// the network weights and the accelerator; this process keeps the
// tokenizer, scheduler and blending loop.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-logr/logr"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/model"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
)

type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

func NewClient(base string, token string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("runtime url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("runtime url %q needs a scheme and host", base)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: u, http: hc, token: token}, nil
}

func checkError(resp *http.Response, body []byte) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	apiError := StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	if err := json.Unmarshal(body, &apiError); err != nil {
		apiError.ErrorMessage = string(bytes.TrimSpace(body))
	}
	return apiError
}

func (c *Client) do(ctx context.Context, method, path string, reqData, respData any) error {
	var body io.Reader
	if reqData != nil {
		data, err := json.Marshal(reqData)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	requestURL := c.base.JoinPath(path)
	logr.FromContextOrDiscard(ctx).V(1).Info("runtime request", "method", method, "url", requestURL.String())

	req, err := http.NewRequestWithContext(ctx, method, requestURL.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := checkError(resp, respBody); err != nil {
		return err
	}
	if len(respBody) > 0 && respData != nil {
		return json.Unmarshal(respBody, respData)
	}
	return nil
}

func (c *Client) Devices(ctx context.Context) ([]model.Device, error) {
	var resp DevicesResponse
	if err := c.do(ctx, http.MethodGet, "/api/devices", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

func (c *Client) Load(ctx context.Context, req *LoadRequest) (*LoadResponse, error) {
	var resp LoadResponse
	if err := c.do(ctx, http.MethodPost, "/api/load", req, &resp); err != nil {
		return nil, err
	}
	if resp.Session == "" {
		return nil, fmt.Errorf("runtime returned no session for %s", req.Model)
	}
	return &resp, nil
}

func (c *Client) tensor(ctx context.Context, path string, req any) (*tensor.Tensor, error) {
	var resp TensorResponse
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return resp.Tensor.Tensor()
}

func (c *Client) Encode(ctx context.Context, req *EncodeRequest) (*tensor.Tensor, error) {
	return c.tensor(ctx, "/api/encode", req)
}

func (c *Client) Denoise(ctx context.Context, req *DenoiseRequest) (*tensor.Tensor, error) {
	return c.tensor(ctx, "/api/denoise", req)
}

func (c *Client) Decode(ctx context.Context, req *DecodeRequest) (*tensor.Tensor, error) {
	return c.tensor(ctx, "/api/decode", req)
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
