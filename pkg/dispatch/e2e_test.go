package dispatch

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/offload/pkg/capsule"
	"github.com/marmos91/offload/pkg/transport/local"
)

// TestDispatchEndToEnd uses the local transport as the worker, so capsules
// are really uploaded, compiled and run.
func TestDispatchEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping go run in short mode")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not in PATH")
	}

	builder := capsule.NewBuilder()
	require.NoError(t, builder.BindEntryFile("fakes_test.go"))

	out := new(bytes.Buffer)
	d := New(&fakeResolver{host: local.Addr}, &local.Dialer{}, testCreds, builder, Config{
		RemoteDir:   t.TempDir(),
		ExecTimeout: 2 * time.Minute,
		Output:      out,
	})

	t.Run("SingleResult", func(t *testing.T) {
		res, err := d.Dispatch(context.Background(), double, 21)
		require.NoError(t, err)
		require.Equal(t, SourceRemote, res.Source, out.String())

		var n int
		require.NoError(t, res.Decode(&n))
		assert.Equal(t, 42, n)
	})

	t.Run("ErrorResult", func(t *testing.T) {
		res, err := d.Dispatch(context.Background(), greet, "")
		require.NoError(t, err)
		require.Equal(t, SourceRemote, res.Source, out.String())

		var s string
		var callErr error
		require.NoError(t, res.Decode(&s, &callErr))
		assert.EqualError(t, callErr, "no name")
	})

	t.Run("Wrapped", func(t *testing.T) {
		sum := Func3(d, add3)
		assert.Equal(t, 6, sum(1, 2, 3))
	})

	assert.NotContains(t, out.String(), capsule.Marker)
}
