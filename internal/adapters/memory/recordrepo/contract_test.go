package recordrepo

import (
	"testing"

	"github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/contracttest"
	clockport "github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/clock"
	recordrepoport "github.com/Overland-East-Bay/catalog-intake-api/internal/ports/out/recordrepo"
)

func TestContract_RecordRepo(t *testing.T) {
	contracttest.RunRecordRepo(t, func(t *testing.T, clk clockport.Clock) (recordrepoport.Repository, func()) {
		t.Helper()
		return NewRepo(clk), nil
	})
}
