package memory

import (
	"testing"

	"github.com/smartshark/issuesync/internal/storage"
	"github.com/smartshark/issuesync/internal/storage/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return New()
	})
}
