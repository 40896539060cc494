package testutil

import (
	"megadata-go/internal/keystore"
	"megadata-go/internal/ledger"
)

// NewTestLedger creates an in-memory ledger signed with the test key.
func NewTestLedger(clock *StubClock) *ledger.Journal {
	return ledger.NewJournal("test-ledger", ledger.NewMemoryBlobs(), keystore.NewTestSigner(), clock, NewStubIDGenerator())
}
