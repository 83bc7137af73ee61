// Package canisters discovers and enriches the secondary canisters
// owned by the authenticated user. Discovery is a single query against
// the primary game-state actor; enrichment fans out across the
// discovered entries and is best effort per entry: one failing
// canister never blocks or removes the others.
package canisters

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/errgroup"

	icauth "github.com/onicai/go-icauth"
)

// Canister status values reported by the backend.
const (
	StatusUnlocked           = "Unlocked"
	StatusLlmSetupInProgress = "LlmSetupInProgress"
	StatusLlmSetupFinished   = "LlmSetupFinished"
)

// UI status values derived during enrichment.
const (
	UIStatusActive   = "active"
	UIStatusInactive = "inactive"
	UIStatusUnlocked = "unlocked"
)

// LLM setup progression values.
const (
	LLMSetupInProgress = "inProgress"
	LLMSetupCompleted  = "completed"
)

// KindOwn marks canisters that run their own model canisters and
// therefore answer getLlmCanisterIds.
const KindOwn = "Own"

const discoveryMethod = "getMainerAgentCanistersForUser"

// Enrichment methods on each secondary canister.
const (
	methodIssueFlags = "getIssueFlagsAdmin"
	methodStatistics = "getMainerStatisticsAdmin"
	methodLlmIDs     = "getLlmCanisterIds"
)

// defaultConcurrency bounds the enrichment fan-out.
const defaultConcurrency = 8

// Initializer builds the dependent actor set for a user.
type Initializer struct {
	factory     icauth.ActorFactory
	descriptor  icauth.Descriptor
	logger      icauth.Logger
	concurrency int
}

var _ icauth.DependentInitializer = (*Initializer)(nil)

// Option customizes an Initializer.
type Option func(*Initializer)

// WithLogger overrides the logger.
func WithLogger(logger icauth.Logger) Option {
	return func(i *Initializer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithConcurrency bounds how many entries enrich at once.
func WithConcurrency(n int) Option {
	return func(i *Initializer) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

// SecondaryDescriptor describes the callable surface of each
// discovered secondary canister.
func SecondaryDescriptor() icauth.Descriptor {
	return icauth.Descriptor{
		Name: "mainer_agent",
		Methods: map[string]icauth.MethodKind{
			methodIssueFlags: icauth.MethodQuery,
			methodStatistics: icauth.MethodQuery,
			methodLlmIDs:     icauth.MethodQuery,
		},
	}
}

// New builds an Initializer that constructs secondary actors with
// factory using the standard secondary descriptor.
func New(factory icauth.ActorFactory, opts ...Option) *Initializer {
	init := &Initializer{
		factory:     factory,
		descriptor:  SecondaryDescriptor(),
		logger:      icauth.DefaultLogger(),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(init)
		}
	}
	return init
}

type canisterEntryWire struct {
	Address string `cbor:"address"`
	Status  string `cbor:"status"`
	Kind    string `cbor:"canisterType"`
}

type discoveryReply struct {
	Ok  []canisterEntryWire `cbor:"Ok,omitempty"`
	Err *string             `cbor:"Err,omitempty"`
}

// Discover queries the primary actor for the caller's secondary
// canister addresses, filters structurally invalid ones, builds one
// actor per valid address and enriches every entry concurrently.
func (i *Initializer) Discover(ctx context.Context, primary icauth.Actor, identity icauth.Identity) ([]icauth.DependentActor, error) {
	if primary == nil {
		return nil, goerrors.New("discovery requires a primary actor", goerrors.CategoryBadInput)
	}

	var reply discoveryReply
	if err := primary.Query(ctx, discoveryMethod, nil, &reply); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to list user canisters")
	}
	if reply.Err != nil {
		return nil, goerrors.New("backend rejected canister listing: "+*reply.Err, goerrors.CategoryOperation)
	}

	entries := i.filter(reply.Ok)
	dependents := make([]icauth.DependentActor, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for idx, entry := range entries {
		g.Go(func() error {
			dependents[idx] = i.materialize(gctx, entry, identity)
			return nil
		})
	}
	// Enrichment errors are recorded per entry, never propagated.
	_ = g.Wait()

	return dependents, nil
}

// filter keeps entries with a structurally valid address, plus
// unlocked entries that have no address yet.
func (i *Initializer) filter(raw []canisterEntryWire) []canisterEntryWire {
	kept := make([]canisterEntryWire, 0, len(raw))
	for _, entry := range raw {
		if entry.Address != "" {
			if _, err := icauth.PrincipalFromText(entry.Address); err == nil {
				kept = append(kept, entry)
				continue
			}
			i.logger.Debug("dropping canister with invalid address %q", entry.Address)
			continue
		}
		if entry.Status == StatusUnlocked {
			kept = append(kept, entry)
		}
	}
	if dropped := len(raw) - len(kept); dropped > 0 {
		i.logger.Info("filtered %d invalid canisters", dropped)
	}
	return kept
}

func (i *Initializer) materialize(ctx context.Context, entry canisterEntryWire, identity icauth.Identity) icauth.DependentActor {
	info := icauth.CanisterInfo{
		Address:       entry.Address,
		Status:        entry.Status,
		Kind:          entry.Kind,
		UIStatus:      UIStatusActive,
		BurnRateLabel: BurnRateLabel(0),
	}

	// Unlocked canisters have no actor yet; nothing to enrich.
	if entry.Status == StatusUnlocked {
		info.UIStatus = UIStatusUnlocked
		return icauth.DependentActor{Info: info}
	}

	switch entry.Status {
	case StatusLlmSetupInProgress:
		info.LLMSetupStatus = LLMSetupInProgress
	case StatusLlmSetupFinished:
		info.LLMSetupStatus = LLMSetupCompleted
	}

	actor, err := i.factory.Build(entry.Address, i.descriptor, identity)
	if err != nil {
		i.logger.Error("failed to build actor for %s: %v", shortAddr(entry.Address), err)
		info.HasError = true
		info.UIStatus = UIStatusInactive
		return icauth.DependentActor{Info: info}
	}

	i.enrich(ctx, actor, &info)
	return icauth.DependentActor{Info: info, Actor: actor}
}

type issueFlagsWire struct {
	LowCycleBalance bool `cbor:"lowCycleBalance"`
}

type issueFlagsReply struct {
	Ok  *issueFlagsWire `cbor:"Ok,omitempty"`
	Err *string         `cbor:"Err,omitempty"`
}

type statisticsWire struct {
	TotalCyclesBurnt uint64 `cbor:"totalCyclesBurnt"`
	CycleBalance     uint64 `cbor:"cycleBalance"`
	CyclesBurnRate   uint64 `cbor:"cyclesBurnRate"`
}

type statisticsReply struct {
	Ok  *statisticsWire `cbor:"Ok,omitempty"`
	Err *string         `cbor:"Err,omitempty"`
}

type llmIDsReply struct {
	Ok  []string `cbor:"Ok,omitempty"`
	Err *string  `cbor:"Err,omitempty"`
}

// enrich augments info with live status data. Sub-calls run in order
// because later ones refine the same record; each failure marks the
// entry instead of aborting it.
func (i *Initializer) enrich(ctx context.Context, actor icauth.Actor, info *icauth.CanisterInfo) {
	var flags issueFlagsReply
	if err := actor.Query(ctx, methodIssueFlags, nil, &flags); err != nil {
		i.logger.Error("error fetching issue flags for %s: %v", shortAddr(info.Address), err)
		info.HasError = true
		// A failed flags call does not make the canister inactive.
	} else if flags.Ok != nil && flags.Ok.LowCycleBalance {
		info.UIStatus = UIStatusInactive
	}

	var stats statisticsReply
	if err := actor.Query(ctx, methodStatistics, nil, &stats); err != nil {
		i.logger.Error("error fetching statistics for %s: %v", shortAddr(info.Address), err)
		info.HasError = true
	} else if stats.Ok != nil {
		info.BurnedCycles = stats.Ok.TotalCyclesBurnt
		info.CycleBalance = stats.Ok.CycleBalance
		info.BurnRate = stats.Ok.CyclesBurnRate
		info.BurnRateLabel = BurnRateLabel(stats.Ok.CyclesBurnRate)
	}

	if info.Kind != KindOwn {
		return
	}
	var llm llmIDsReply
	if err := actor.Query(ctx, methodLlmIDs, nil, &llm); err != nil {
		i.logger.Error("error fetching model canister ids for %s: %v", shortAddr(info.Address), err)
		return
	}
	if llm.Ok != nil {
		info.LLMCanisters = llm.Ok
		if len(llm.Ok) > 0 && info.LLMSetupStatus != LLMSetupCompleted {
			info.LLMSetupStatus = LLMSetupCompleted
		}
	}
}

// BurnRateLabel buckets a cycles burn rate into its setting label.
// These ranges track the backend's burn rate tiers.
func BurnRateLabel(cycles uint64) string {
	switch cycles {
	case 1_000_000_000_000:
		return "Low"
	case 2_000_000_000_000:
		return "Medium"
	case 4_000_000_000_000:
		return "High"
	case 6_000_000_000_000:
		return "Very High"
	default:
		return "Medium"
	}
}

func shortAddr(addr string) string {
	if len(addr) > 5 {
		return addr[:5]
	}
	return addr
}
