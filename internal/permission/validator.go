package permission

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/samber/lo"

	"megadata-go/internal/config"
	"megadata-go/internal/megadata"
)

// Reasons returned in failing ValidationResults.
const (
	ReasonMetadataWithoutCollection = "extending-metadata requires extending-collection to also be attached"
	ReasonMissingSource             = "metadata.source and metadata.id are required"
	ReasonCollectionNotAuthorized   = "not authorized to modify this collection"
	ReasonTokenNotOwned             = "token does not exist or is not owned by anyone"
	ReasonTokenNotAuthorized        = "not authorized to modify this token"
)

// Kind is the authorization behavior of a module.
type Kind int

const (
	// KindUnknown modules carry no authorization semantics and always pass.
	KindUnknown Kind = iota
	KindExtendingCollection
	KindExtendingMetadata
)

func (k Kind) String() string {
	switch k {
	case KindExtendingCollection:
		return "extending-collection"
	case KindExtendingMetadata:
		return "extending-metadata"
	default:
		return "unknown"
	}
}

// Validator decides whether a set of caller identities may write token data
// under the attached modules, using on-chain ownership as proof.
type Validator struct {
	chain            megadata.ChainReader
	linking          megadata.LinkingService
	admins           map[string]bool
	collectionModule string
	metadataModule   string
	log              megadata.Logger
}

// NewValidator creates a Validator. A nil linking service resolves no linked accounts.
func NewValidator(chain megadata.ChainReader, linking megadata.LinkingService, cfg config.PermissionsConfig, log megadata.Logger) *Validator {
	if log == nil {
		log = megadata.NewNopLogger()
	}
	v := &Validator{
		chain:   chain,
		linking: linking,
		admins:  make(map[string]bool, len(cfg.Admins)),
		log:     log,
	}
	v.collectionModule, v.metadataModule = ModuleIDs(cfg)
	for _, a := range cfg.Admins {
		v.admins[megadata.NormalizeAddress(a)] = true
	}
	return v
}

// ModuleIDs returns the extending-collection and extending-metadata module
// ids in effect for cfg.
func ModuleIDs(cfg config.PermissionsConfig) (collection, metadata string) {
	collection, metadata = cfg.ExtendingCollectionModule, cfg.ExtendingMetadataModule
	if collection == "" {
		collection = megadata.ModuleExtendingCollection
	}
	if metadata == "" {
		metadata = megadata.ModuleExtendingMetadata
	}
	return collection, metadata
}

// KindOf maps a module id to its authorization behavior.
func (v *Validator) KindOf(moduleID string) Kind {
	switch moduleID {
	case v.collectionModule:
		return KindExtendingCollection
	case v.metadataModule:
		return KindExtendingMetadata
	default:
		return KindUnknown
	}
}

// Identities returns wallet plus every linked account, lower-cased and
// deduplicated.
func (v *Validator) Identities(ctx context.Context, wallet string) ([]string, error) {
	ids := []string{megadata.NormalizeAddress(wallet)}
	if v.linking != nil {
		linked, err := v.linking.LinkedAccounts(ctx, wallet)
		if err != nil {
			return nil, fmt.Errorf("resolving linked accounts for %s: %w", wallet, err)
		}
		for _, l := range linked {
			ids = append(ids, megadata.NormalizeAddress(l))
		}
	}
	return lo.Uniq(lo.Compact(ids)), nil
}

// Validate checks modules in attachment order and returns the first
// failure. Authorization denials are results, not errors; the error is
// non-nil only when ctx is done.
func (v *Validator) Validate(ctx context.Context, modules []string, tokenID string, metadata map[string]any, callers []string) (megadata.ValidationResult, error) {
	kinds := lo.Map(modules, func(m string, _ int) Kind { return v.KindOf(m) })
	if lo.Contains(kinds, KindExtendingMetadata) && !lo.Contains(kinds, KindExtendingCollection) {
		return megadata.Deny(ReasonMetadataWithoutCollection), nil
	}

	for i, kind := range kinds {
		var res megadata.ValidationResult
		switch kind {
		case KindExtendingCollection:
			res = v.validateCollection(ctx, tokenID, metadata, callers)
		case KindExtendingMetadata:
			res = v.validateMetadata(ctx, tokenID, metadata, callers)
		default:
			continue
		}
		if err := ctx.Err(); err != nil {
			return megadata.ValidationResult{}, err
		}
		if !res.Valid {
			v.log.Debug("validation denied", "module", modules[i], "token", tokenID, "reason", res.Error)
			return res, nil
		}
	}
	return megadata.Allow(), nil
}

func (v *Validator) isAdmin(callers []string) bool {
	return lo.SomeBy(callers, func(c string) bool { return v.admins[megadata.NormalizeAddress(c)] })
}

func isCaller(addr string, callers []string) bool {
	return lo.SomeBy(callers, func(c string) bool { return megadata.SameAddress(c, addr) })
}

// source extracts the network and contract address the token mirrors.
func (v *Validator) source(metadata map[string]any) (network, contract string, deny *megadata.ValidationResult) {
	network, _ = metadata["source"].(string)
	contract, _ = metadata["id"].(string)
	if network == "" || contract == "" {
		res := megadata.Deny(ReasonMissingSource)
		return "", "", &res
	}
	if !v.chain.HasNetwork(network) {
		res := megadata.Deny(fmt.Sprintf("no rpc endpoint configured for network %q", network))
		return "", "", &res
	}
	return network, contract, nil
}

func (v *Validator) validateCollection(ctx context.Context, tokenID string, metadata map[string]any, callers []string) megadata.ValidationResult {
	if v.isAdmin(callers) {
		return megadata.Allow()
	}
	network, contract, deny := v.source(metadata)
	if deny != nil {
		return *deny
	}

	owner, err := v.chain.ContractOwner(ctx, network, contract)
	switch {
	case err == nil && owner.Found && isCaller(owner.Address, callers):
		return megadata.Allow()
	case err != nil && !errors.Is(err, megadata.ErrUnsupportedContract):
		v.log.Warn("contract owner lookup failed", "network", network, "contract", contract, "error", err)
	}

	if isTokenNumber(tokenID) {
		owner, err := v.chain.OwnerOf(ctx, network, contract, tokenID)
		if err == nil && owner.Found && isCaller(owner.Address, callers) {
			return megadata.Allow()
		}
		if err != nil {
			v.log.Warn("token owner lookup failed", "network", network, "contract", contract, "token", tokenID, "error", err)
		}
	}
	return megadata.Deny(ReasonCollectionNotAuthorized)
}

func (v *Validator) validateMetadata(ctx context.Context, tokenID string, metadata map[string]any, callers []string) megadata.ValidationResult {
	if v.isAdmin(callers) {
		return megadata.Allow()
	}
	network, contract, deny := v.source(metadata)
	if deny != nil {
		return *deny
	}

	owner, err := v.chain.OwnerOf(ctx, network, contract, tokenID)
	if err != nil || !owner.Found {
		if err != nil {
			v.log.Debug("token owner lookup failed", "network", network, "contract", contract, "token", tokenID, "error", err)
		}
		return megadata.Deny(ReasonTokenNotOwned)
	}
	if isCaller(owner.Address, callers) {
		return megadata.Allow()
	}

	for _, caller := range callers {
		approved, err := v.chain.IsApprovedForAll(ctx, network, contract, owner.Address, caller)
		if err != nil {
			v.log.Debug("approval lookup failed", "network", network, "contract", contract, "operator", caller, "error", err)
			return megadata.Deny(ReasonTokenNotOwned)
		}
		if approved {
			return megadata.Allow()
		}
	}
	return megadata.Deny(ReasonTokenNotAuthorized)
}

// isTokenNumber reports whether tokenID is a non-negative decimal integer.
func isTokenNumber(tokenID string) bool {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" || strings.HasPrefix(tokenID, "+") {
		return false
	}
	n, ok := new(big.Int).SetString(tokenID, 10)
	return ok && n.Sign() >= 0
}
