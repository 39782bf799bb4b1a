package memstore

import (
	"testing"

	"github.com/straub/table/internal/ports"
	"github.com/straub/table/internal/ports/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.Store { return New() })
}
