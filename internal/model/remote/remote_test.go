package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/model"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/model/builtin"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/scheduler"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/tensor"
)

// runtime serves the wire protocol with the builtin networks.
type runtime struct {
	t       *testing.T
	devices []model.Device
	loaded  LoadRequest
}

func (rt *runtime) handler() http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(rt.t, json.NewEncoder(w).Encode(v))
	}
	fail := func(w http.ResponseWriter, code int, msg string) {
		w.WriteHeader(code)
		reply(w, map[string]string{"error": msg})
	}
	tensorReply := func(w http.ResponseWriter, t *tensor.Tensor, err error) {
		if err != nil {
			fail(w, http.StatusInternalServerError, err.Error())
			return
		}
		reply(w, TensorResponse{Tensor: FromTensor(t, rt.loaded.Precision)})
	}

	mux.HandleFunc("GET /api/devices", func(w http.ResponseWriter, r *http.Request) {
		reply(w, DevicesResponse{Devices: rt.devices})
	})
	mux.HandleFunc("POST /api/load", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			fail(w, http.StatusUnauthorized, "bad token")
			return
		}
		require.NoError(rt.t, json.NewDecoder(r.Body).Decode(&rt.loaded))
		if rt.loaded.Model != "org/model" {
			fail(w, http.StatusNotFound, "no such model")
			return
		}
		reply(w, LoadResponse{Session: "s1", EmbeddingDim: builtin.EmbeddingDim, LatentChannels: 4, SampleSize: 64})
	})
	mux.HandleFunc("POST /api/encode", func(w http.ResponseWriter, r *http.Request) {
		var req EncodeRequest
		require.NoError(rt.t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(rt.t, req.IDs, 1)
		emb, err := builtin.Encoder{}.Encode(r.Context(), req.IDs[0])
		tensorReply(w, emb, err)
	})
	mux.HandleFunc("POST /api/denoise", func(w http.ResponseWriter, r *http.Request) {
		var req DenoiseRequest
		require.NoError(rt.t, json.NewDecoder(r.Body).Decode(&req))
		latents, err := req.Latents.Tensor()
		require.NoError(rt.t, err)
		cond, err := req.Conditioning.Tensor()
		require.NoError(rt.t, err)
		eps, err := builtin.NewDenoiser(scheduler.DefaultConfig()).Denoise(r.Context(), latents, req.Timestep, cond)
		tensorReply(w, eps, err)
	})
	mux.HandleFunc("POST /api/decode", func(w http.ResponseWriter, r *http.Request) {
		var req DecodeRequest
		require.NoError(rt.t, json.NewDecoder(r.Body).Decode(&req))
		latents, err := req.Latents.Tensor()
		require.NoError(rt.t, err)
		img, err := builtin.Decoder{}.Decode(r.Context(), latents)
		tensorReply(w, img, err)
	})
	return mux
}

func newRuntime(t *testing.T, devices ...model.Device) (*runtime, *httptest.Server) {
	rt := &runtime{t: t, devices: devices}
	srv := httptest.NewServer(rt.handler())
	t.Cleanup(srv.Close)
	return rt, srv
}

func TestLoadThroughRuntime(t *testing.T) {
	rt, srv := newRuntime(t, model.Device{Name: "cpu", Kind: model.CPU}, model.Device{Name: "cuda:0", Kind: model.CUDA})

	p, err := model.Load(context.Background(), model.Options{
		Name:         "org/model",
		Backend:      Name,
		RuntimeURL:   srv.URL,
		RuntimeToken: "token",
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown() })

	want := LoadRequest{Model: "org/model", Device: "cuda:0", Precision: tensor.Float16, SafetyChecker: false}
	if diff := cmp.Diff(want, rt.loaded); diff != "" {
		t.Errorf("load request mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, tensor.Float16, p.Precision())
	assert.Equal(t, []int{1, 4, 64, 64}, p.LatentShape())

	ctx := context.Background()
	emb, err := p.Encoder().Encode(ctx, p.Tokenizer().Encode("a red cube"))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 77, builtin.EmbeddingDim}, emb.Shape)

	local, err := builtin.Encoder{}.Encode(ctx, p.Tokenizer().Encode("a red cube"))
	require.NoError(t, err)
	assert.True(t, tensor.Float16.Round(local).Equal(emb))

	cond, err := tensor.Concat(emb, emb)
	require.NoError(t, err)
	eps, err := p.Denoiser().Denoise(ctx, tensor.Randn(1, 2, 4, 64, 64), 901, cond)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 64, 64}, eps.Shape)

	img, err := p.Decoder().Decode(ctx, tensor.Randn(2, 1, 4, 64, 64))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 512, 512}, img.Shape)
}

func TestStatusErrors(t *testing.T) {
	_, srv := newRuntime(t, model.Device{Name: "cpu", Kind: model.CPU})

	c, err := NewClient(srv.URL, "wrong", srv.Client())
	require.NoError(t, err)
	_, err = c.Load(context.Background(), &LoadRequest{Model: "org/model"})

	var se StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "bad token", se.ErrorMessage)

	c, err = NewClient(srv.URL, "token", srv.Client())
	require.NoError(t, err)
	_, err = c.Load(context.Background(), &LoadRequest{Model: "org/missing"})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Contains(t, err.Error(), "no such model")

	// Decode rejects latents the builtin decoder cannot handle.
	_, err = c.Decode(context.Background(), &DecodeRequest{Session: "s1", Latents: FromTensor(tensor.Zeros(1, 3, 8, 8), tensor.Float32)})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("127.0.0.1:7860", "", nil)
	assert.Error(t, err)
}

func TestWireTensor(t *testing.T) {
	src := tensor.Randn(5, 2, 3)
	for _, p := range []tensor.Precision{tensor.Float32, tensor.Float16} {
		b, err := json.Marshal(FromTensor(src, p))
		require.NoError(t, err)

		var w Tensor
		require.NoError(t, json.Unmarshal(b, &w))
		got, err := w.Tensor()
		require.NoError(t, err)
		assert.True(t, p.Round(src.Clone()).Equal(got), p)
	}

	_, err := (&Tensor{Shape: []int{2}, DType: "bfloat16", Data: make([]byte, 4)}).Tensor()
	assert.Error(t, err)
	_, err = (*Tensor)(nil).Tensor()
	assert.ErrorIs(t, err, tensor.ErrShape)
}
