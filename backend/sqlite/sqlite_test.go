package sqlite

import (
	"testing"

	"github.com/stageflow/stageflow/backend"
	"github.com/stageflow/stageflow/backend/test"
)

func Test_SqliteBackend(t *testing.T) {
	test.BackendTest(t, func() backend.Backend {
		return NewInMemoryBackend()
	}, nil)
}
