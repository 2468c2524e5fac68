package inject

import (
	"bytes"
	"context"
	"testing"

	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisheksharma026/Blended-Diffusion/internal/log"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/model"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/publish"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/server"
	"github.com/abhisheksharma026/Blended-Diffusion/internal/store"
)

func TestSetupBuiltin(t *testing.T) {
	t.Setenv("BLEND_BUCKET", "")
	t.Setenv("BLEND_PUBLISH_DIR", "")
	t.Setenv("BLEND_SCHEDULER", "")

	injector := Setup(context.Background(), Options{Model: "builtin", Backend: "builtin", Scheduler: "euler"})
	defer injector.Shutdown()

	p := do.MustInvoke[*model.Pipeline](injector)
	assert.Equal(t, "builtin", p.Name())
	assert.Equal(t, "EulerDiscreteScheduler", p.SchedulerConfig().ClassName)

	_, err := do.Invoke[*server.Server](injector)
	require.NoError(t, err)

	_, err = do.Invoke[*publish.Publisher](injector)
	assert.ErrorIs(t, err, store.ErrNotConfigured)
}

func TestSetupUnknownBackend(t *testing.T) {
	injector := Setup(context.Background(), Options{Backend: "nope"})
	_, err := do.Invoke[*model.Pipeline](injector)
	assert.ErrorIs(t, err, model.ErrUnknownBackend)
}

func TestSetupInvalidRate(t *testing.T) {
	t.Setenv("BLEND_RATE", "fast")

	var buf bytes.Buffer
	ctx := log.NewContext(context.Background(), log.New(&buf, false))
	injector := Setup(ctx, Options{Backend: "builtin"})

	assert.Equal(t, 1.0, do.MustInvokeNamed[float64](injector, "rate"))
	assert.Contains(t, buf.String(), `"msg":"invalid rate, using default"`)
	assert.Contains(t, buf.String(), "BLEND_RATE")
}
