package sahpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tursodatabase/oosvfs/objectstore/memstore"
	"github.com/tursodatabase/oosvfs/vfs"
)

func TestInstallerBindsRealWazeroRuntime(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	var installer Installer
	installed, err := installer.Install(ctx, "sahpool-install-test", store, "", 4)
	require.NoError(t, err)
	require.NotNil(t, installed.Bound)
	require.NotZero(t, installed.Bound.VFSPtr())
	require.Same(t, installed.VFS, vfs.Find("sahpool-install-test"))
	defer installed.Close(ctx)

	// A second call is one-shot: it returns the cached outcome, not a
	// fresh pool/binding.
	again, err := installer.Install(ctx, "sahpool-install-test", store, "", 4)
	require.NoError(t, err)
	require.Same(t, installed, again)
}
