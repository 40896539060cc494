package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"megadata-go/internal/chain"
	"megadata-go/internal/megadata"
)

// FakeContract is the on-chain state served by FakeChain for one contract.
type FakeContract struct {
	Name          string
	TokenIDs      []string
	Owners        map[string]string   // token id -> owner address
	ContractOwner string              // empty means owner() is not implemented
	Approvals     map[string][]string // owner -> approved operators
	URIs          map[string]string   // token id -> tokenURI
}

// FakeChain is a scriptable megadata.ChainReader with per-method call
// counters and failure injection. Safe for concurrent use.
type FakeChain struct {
	mu          sync.Mutex
	networks    map[string]bool
	contracts   map[string]*FakeContract
	failing     map[string]error
	failMethods map[string]error
	calls       map[string]int
}

var _ megadata.ChainReader = (*FakeChain)(nil)

// NewFakeChain creates a chain that knows the given networks.
func NewFakeChain(networks ...string) *FakeChain {
	f := &FakeChain{
		networks:    map[string]bool{},
		contracts:   map[string]*FakeContract{},
		failing:     map[string]error{},
		failMethods: map[string]error{},
		calls:       map[string]int{},
	}
	for _, n := range networks {
		f.networks[strings.ToLower(n)] = true
	}
	return f
}

func contractKey(network, contract string) string {
	return strings.ToLower(network) + "|" + strings.ToLower(contract)
}

// Deploy installs or replaces a contract.
func (f *FakeChain) Deploy(network, contract string, c *FakeContract) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contracts[contractKey(network, contract)] = c
}

// FailContract makes every call against contract return err as an RPC failure.
func (f *FakeChain) FailContract(network, contract string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[contractKey(network, contract)] = err
}

// FailMethod makes every call of method (e.g. "TokenURI") fail with err.
func (f *FakeChain) FailMethod(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failMethods[method] = err
}

// Calls returns how many times method was invoked.
func (f *FakeChain) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (f *FakeChain) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *FakeChain) HasNetwork(network string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.networks[strings.ToLower(network)]
}

// lookup records the call and returns the contract or the scripted failure.
func (f *FakeChain) lookup(method, network, contract string) (*FakeContract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++

	if !f.networks[strings.ToLower(network)] {
		return nil, fmt.Errorf("%s: %w", network, megadata.ErrUnknownNetwork)
	}
	if err, ok := f.failMethods[method]; ok {
		return nil, &megadata.RPCError{Network: network, Method: method, Err: err}
	}
	if err, ok := f.failing[contractKey(network, contract)]; ok {
		return nil, &megadata.RPCError{Network: network, Method: method, Err: err}
	}
	c, ok := f.contracts[contractKey(network, contract)]
	if !ok {
		return nil, fmt.Errorf("%s has no code: %w", contract, megadata.ErrUnsupportedContract)
	}
	return c, nil
}

func checkKind(kind megadata.ContractKind) error {
	if kind != megadata.ContractERC721 {
		return fmt.Errorf("contract kind %q: %w", kind, megadata.ErrUnsupportedContract)
	}
	return nil
}

func (f *FakeChain) ContractName(ctx context.Context, network string, kind megadata.ContractKind, contract string) (string, error) {
	c, err := f.lookup("ContractName", network, contract)
	if err != nil {
		return "", err
	}
	if err := checkKind(kind); err != nil {
		return "", err
	}
	return c.Name, nil
}

func (f *FakeChain) TotalSupply(ctx context.Context, network string, kind megadata.ContractKind, contract string) (uint64, error) {
	c, err := f.lookup("TotalSupply", network, contract)
	if err != nil {
		return 0, err
	}
	if err := checkKind(kind); err != nil {
		return 0, err
	}
	return uint64(len(c.TokenIDs)), nil
}

func (f *FakeChain) TokenIDs(ctx context.Context, network string, kind megadata.ContractKind, contract string) ([]string, error) {
	c, err := f.lookup("TokenIDs", network, contract)
	if err != nil {
		return nil, err
	}
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	return chain.SortTokenIDs(append([]string(nil), c.TokenIDs...)), nil
}

func (f *FakeChain) ContractOwner(ctx context.Context, network, contract string) (megadata.Owner, error) {
	c, err := f.lookup("ContractOwner", network, contract)
	if err != nil {
		return megadata.Owner{}, err
	}
	if c.ContractOwner == "" {
		return megadata.Owner{}, fmt.Errorf("%s lacks owner(): %w", contract, megadata.ErrUnsupportedContract)
	}
	return megadata.Owner{Address: megadata.NormalizeAddress(c.ContractOwner), Found: true}, nil
}

func (f *FakeChain) OwnerOf(ctx context.Context, network, contract, tokenID string) (megadata.Owner, error) {
	c, err := f.lookup("OwnerOf", network, contract)
	if err != nil {
		return megadata.Owner{}, err
	}
	owner, ok := c.Owners[tokenID]
	if !ok {
		return megadata.Owner{}, nil
	}
	return megadata.Owner{Address: megadata.NormalizeAddress(owner), Found: true}, nil
}

func (f *FakeChain) IsApprovedForAll(ctx context.Context, network, contract, owner, operator string) (bool, error) {
	c, err := f.lookup("IsApprovedForAll", network, contract)
	if err != nil {
		return false, err
	}
	for o, operators := range c.Approvals {
		if !megadata.SameAddress(o, owner) {
			continue
		}
		for _, op := range operators {
			if megadata.SameAddress(op, operator) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *FakeChain) TokenURI(ctx context.Context, network, contract, tokenID string) (string, error) {
	c, err := f.lookup("TokenURI", network, contract)
	if err != nil {
		return "", err
	}
	uri, ok := c.URIs[tokenID]
	if !ok {
		return "", &megadata.RPCError{Network: network, Method: "tokenURI", Err: fmt.Errorf("execution reverted")}
	}
	return uri, nil
}
