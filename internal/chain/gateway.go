package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"

	"megadata-go/internal/config"
	"megadata-go/internal/megadata"
)

const (
	defaultTimeout = 30 * time.Second
	codeCacheSize  = 256

	// maxPrealloc caps the id slice capacity taken from an on-chain totalSupply.
	maxPrealloc = 10_000
)

// ethAPI is the subset of the Ethereum JSON-RPC API the gateway uses.
type ethAPI struct {
	Call    func(ctx context.Context, msg callMsg, block string) (hexBytes, error) `rpc_method:"eth_call"`
	GetCode func(ctx context.Context, address string, block string) (hexBytes, error) `rpc_method:"eth_getCode"`
}

type endpoint struct {
	url    string
	api    ethAPI
	closer jsonrpc.ClientCloser
}

type pool struct {
	endpoints []*endpoint
}

// Gateway issues read-only contract calls against a per-network endpoint
// pool. Every call goes to one endpoint chosen uniformly at random; failed
// calls are not retried on another endpoint.
type Gateway struct {
	pools map[string]*pool
	code  *lru.Cache[string, []byte]
	pick  func(n int) int
}

var _ megadata.ChainReader = (*Gateway)(nil)

// NewGateway dials one JSON-RPC client per configured endpoint.
func NewGateway(ctx context.Context, networks []config.NetworkConfig) (*Gateway, error) {
	code, err := lru.New[string, []byte](codeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating code cache: %w", err)
	}
	g := &Gateway{
		pools: make(map[string]*pool, len(networks)),
		code:  code,
		pick:  rand.IntN,
	}

	for _, n := range networks {
		p := &pool{}
		for _, url := range n.Endpoints {
			ep := &endpoint{url: url}
			closer, err := jsonrpc.NewMergeClient(ctx, url, "eth", []interface{}{&ep.api}, nil,
				jsonrpc.WithTimeout(n.Timeout.Or(defaultTimeout)))
			if err != nil {
				g.Close()
				return nil, fmt.Errorf("dialing %s endpoint %s: %w", n.Name, url, err)
			}
			ep.closer = closer
			p.endpoints = append(p.endpoints, ep)
		}
		g.pools[strings.ToLower(n.Name)] = p
	}
	return g, nil
}

// Close releases every endpoint client.
func (g *Gateway) Close() {
	for _, p := range g.pools {
		for _, ep := range p.endpoints {
			if ep.closer != nil {
				ep.closer()
			}
		}
	}
}

func (g *Gateway) HasNetwork(network string) bool {
	p, ok := g.pools[strings.ToLower(network)]
	return ok && len(p.endpoints) > 0
}

func (g *Gateway) endpoint(network string) (*endpoint, error) {
	p, ok := g.pools[strings.ToLower(network)]
	if !ok || len(p.endpoints) == 0 {
		return nil, fmt.Errorf("%s: %w", network, megadata.ErrUnknownNetwork)
	}
	return p.endpoints[g.pick(len(p.endpoints))], nil
}

// isRevert reports whether a call failed because the contract reverted,
// as opposed to a transport failure.
func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}

// call runs eth_call. The returned bool is false when the contract reverted.
func (g *Gateway) call(ctx context.Context, network, contract, sig string, data []byte) ([]byte, bool, error) {
	ep, err := g.endpoint(network)
	if err != nil {
		return nil, false, err
	}
	out, err := ep.api.Call(ctx, callMsg{To: contract, Data: data}, "latest")
	if err != nil {
		if isRevert(err) {
			return nil, false, nil
		}
		return nil, false, &megadata.RPCError{Network: network, Method: sig, Err: err}
	}
	return out, true, nil
}

// mustCall is call for functions that are not expected to revert.
func (g *Gateway) mustCall(ctx context.Context, network, contract, sig string, data []byte) ([]byte, error) {
	out, ok, err := g.call(ctx, network, contract, sig, data)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &megadata.RPCError{Network: network, Method: sig, Err: errors.New("execution reverted")}
	}
	return out, nil
}

// require probes the contract bytecode for every signature and returns
// ErrUnsupportedContract when one is missing.
func (g *Gateway) require(ctx context.Context, network, contract string, sigs ...string) error {
	key := strings.ToLower(network) + "|" + strings.ToLower(contract)
	code, ok := g.code.Get(key)
	if !ok {
		ep, err := g.endpoint(network)
		if err != nil {
			return err
		}
		code, err = ep.api.GetCode(ctx, contract, "latest")
		if err != nil {
			return &megadata.RPCError{Network: network, Method: "eth_getCode", Err: err}
		}
		g.code.Add(key, code)
	}

	if len(code) == 0 {
		return fmt.Errorf("%s has no code on %s: %w", contract, network, megadata.ErrUnsupportedContract)
	}
	for _, sig := range sigs {
		if !hasFunction(code, sig) {
			return fmt.Errorf("%s lacks %s: %w", contract, sig, megadata.ErrUnsupportedContract)
		}
	}
	return nil
}

func requireKind(kind megadata.ContractKind) error {
	if kind != megadata.ContractERC721 {
		return fmt.Errorf("contract kind %q: %w", kind, megadata.ErrUnsupportedContract)
	}
	return nil
}

func (g *Gateway) ContractName(ctx context.Context, network string, kind megadata.ContractKind, contract string) (string, error) {
	if err := requireKind(kind); err != nil {
		return "", err
	}
	if err := g.require(ctx, network, contract, sigName); err != nil {
		return "", err
	}
	out, err := g.mustCall(ctx, network, contract, sigName, encodeCall(sigName))
	if err != nil {
		return "", err
	}
	return decodeString(out)
}

func (g *Gateway) TotalSupply(ctx context.Context, network string, kind megadata.ContractKind, contract string) (uint64, error) {
	if err := requireKind(kind); err != nil {
		return 0, err
	}
	if err := g.require(ctx, network, contract, sigTotalSupply); err != nil {
		return 0, err
	}
	return g.totalSupply(ctx, network, contract)
}

func (g *Gateway) totalSupply(ctx context.Context, network, contract string) (uint64, error) {
	out, err := g.mustCall(ctx, network, contract, sigTotalSupply, encodeCall(sigTotalSupply))
	if err != nil {
		return 0, err
	}
	v, err := decodeUint256(out)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("total supply %s overflows uint64", v)
	}
	return v.Uint64(), nil
}

// TokenIDs walks tokenByIndex over [0, totalSupply).
func (g *Gateway) TokenIDs(ctx context.Context, network string, kind megadata.ContractKind, contract string) ([]string, error) {
	if err := requireKind(kind); err != nil {
		return nil, err
	}
	if err := g.require(ctx, network, contract, sigTotalSupply, sigTokenByIndex); err != nil {
		return nil, err
	}

	supply, err := g.totalSupply(ctx, network, contract)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, min(supply, maxPrealloc))
	for i := uint64(0); i < supply; i++ {
		word, _ := uint256Word(new(big.Int).SetUint64(i))
		out, err := g.mustCall(ctx, network, contract, sigTokenByIndex, encodeCall(sigTokenByIndex, word))
		if err != nil {
			return nil, err
		}
		id, err := decodeUint256(out)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id.String())
	}
	return SortTokenIDs(lo.Uniq(ids)), nil
}

// SortTokenIDs orders decimal token ids numerically, in place.
func SortTokenIDs(ids []string) []string {
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
	return ids
}

// ContractOwner calls Ownable.owner(). Contracts without it yield ErrUnsupportedContract.
func (g *Gateway) ContractOwner(ctx context.Context, network, contract string) (megadata.Owner, error) {
	if err := g.require(ctx, network, contract, sigOwner); err != nil {
		return megadata.Owner{}, err
	}
	return g.owner(ctx, network, contract, sigOwner, encodeCall(sigOwner))
}

// OwnerOf returns Found=false when ownerOf reverts, e.g. for an unminted token.
func (g *Gateway) OwnerOf(ctx context.Context, network, contract, tokenID string) (megadata.Owner, error) {
	word, err := parseTokenID(tokenID)
	if err != nil {
		return megadata.Owner{}, err
	}
	if err := g.require(ctx, network, contract, sigOwnerOf); err != nil {
		return megadata.Owner{}, err
	}
	return g.owner(ctx, network, contract, sigOwnerOf, encodeCall(sigOwnerOf, word))
}

func (g *Gateway) owner(ctx context.Context, network, contract, sig string, data []byte) (megadata.Owner, error) {
	out, ok, err := g.call(ctx, network, contract, sig, data)
	if err != nil || !ok {
		return megadata.Owner{}, err
	}
	addr, err := decodeAddress(out)
	if err != nil {
		return megadata.Owner{}, err
	}
	if addr == zeroAddress {
		return megadata.Owner{}, nil
	}
	return megadata.Owner{Address: addr, Found: true}, nil
}

const zeroAddress = "0x0000000000000000000000000000000000000000"

func (g *Gateway) IsApprovedForAll(ctx context.Context, network, contract, owner, operator string) (bool, error) {
	ownerWord, err := addressWord(owner)
	if err != nil {
		return false, err
	}
	operatorWord, err := addressWord(operator)
	if err != nil {
		return false, err
	}
	if err := g.require(ctx, network, contract, sigIsApprovedForAll); err != nil {
		return false, err
	}
	out, err := g.mustCall(ctx, network, contract, sigIsApprovedForAll,
		encodeCall(sigIsApprovedForAll, ownerWord, operatorWord))
	if err != nil {
		return false, err
	}
	return decodeBool(out)
}

func (g *Gateway) TokenURI(ctx context.Context, network, contract, tokenID string) (string, error) {
	word, err := parseTokenID(tokenID)
	if err != nil {
		return "", err
	}
	if err := g.require(ctx, network, contract, sigTokenURI); err != nil {
		return "", err
	}
	out, err := g.mustCall(ctx, network, contract, sigTokenURI, encodeCall(sigTokenURI, word))
	if err != nil {
		return "", err
	}
	return decodeString(out)
}
