package build

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/AlexandrePrevot/OrderParserProcessor/internal/errors"
)

func TestResolve_Categories(t *testing.T) {
	root := "/repo/backend"

	tests := []struct {
		token    string
		category Category
		base     string
		header   string
		source   string
	}{
		{
			token:    "processors/common/timers.h",
			category: CategoryProcessor,
			base:     "timers",
			header:   filepath.Join(root, "includes", "processors", "common", "timers.h"),
			source:   filepath.Join(root, "src", "processors", "common", "timers.cc"),
		},
		{
			token:    "services/orders.h",
			category: CategoryService,
			base:     "orders",
			header:   filepath.Join(root, "includes", "services", "orders.h"),
			source:   filepath.Join(root, "src", "services", "orders.cc"),
		},
		{
			token:    "<services/orders.hpp>",
			category: CategoryService,
			base:     "orders",
			header:   filepath.Join(root, "includes", "services", "orders.h"),
			source:   filepath.Join(root, "src", "services", "orders.cc"),
		},
		{
			token:    ` "legacy" `,
			category: CategoryProcessor,
			base:     "legacy",
			header:   filepath.Join(root, "includes", "legacy.h"),
			source:   filepath.Join(root, "src", "legacy.cc"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			dep, err := Resolve(tt.token, root)
			require.NoError(t, err)
			assert.Equal(t, tt.token, dep.Token)
			assert.Equal(t, tt.category, dep.Category)
			assert.Equal(t, tt.base, dep.BaseName)
			assert.Equal(t, tt.header, dep.HeaderPath)
			assert.Equal(t, tt.source, dep.SourcePath)
		})
	}
}

func TestResolve_InvalidTokens(t *testing.T) {
	for _, tok := range []string{"", "   ", "services/", "processors/common/", "../etc/passwd", "services/../x", "a//b"} {
		_, err := Resolve(tok, "/repo")
		require.Error(t, err, "token %q", tok)
		assert.True(t, errors.Is(err, ErrInvalidToken), "token %q", tok)
		assert.Equal(t, perrors.KindInvalid, perrors.KindOf(err))
	}
}

func TestResolveAll_StopsOnFirstError(t *testing.T) {
	deps, err := ResolveAll([]string{"services/a.h", "", "services/b.h"}, "/repo")
	require.Error(t, err)
	assert.Nil(t, deps)

	deps, err = ResolveAll([]string{"services/a.h", "processors/common/b.h"}, "/repo")
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, CategoryService, deps[0].Category)
	assert.Equal(t, CategoryProcessor, deps[1].Category)
}

func TestCategory_Text(t *testing.T) {
	b, err := CategoryService.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "service", string(b))

	var c Category
	require.NoError(t, c.UnmarshalText([]byte("processor")))
	assert.Equal(t, CategoryProcessor, c)
	require.NoError(t, c.UnmarshalText([]byte("service")))
	assert.Equal(t, CategoryService, c)
	assert.Error(t, c.UnmarshalText([]byte("library")))

	assert.Equal(t, "services", CategoryService.Dir())
	assert.Equal(t, filepath.Join("processors", "common"), CategoryProcessor.Dir())
}
