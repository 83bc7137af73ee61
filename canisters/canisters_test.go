package canisters_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	icauth "github.com/onicai/go-icauth"
	"github.com/onicai/go-icauth/canisters"
)

// Valid principal texts for fixtures.
const (
	addrA = "ryjl3-tyaaa-aaaaa-aaaba-cai"
	addrB = "rrkah-fqaaa-aaaaa-aaaaq-cai"
	addrC = "qoctq-giaaa-aaaaa-aaaea-cai"
)

// respond encodes value through the cbor wire format into reply, the
// same way a live actor decodes canister responses.
func respond(reply, value any) error {
	raw, err := cbor.Marshal(value)
	if err != nil {
		return err
	}
	return cbor.Unmarshal(raw, reply)
}

type entryFixture struct {
	Address string `cbor:"address"`
	Status  string `cbor:"status"`
	Kind    string `cbor:"canisterType"`
}

// primaryActor answers the discovery query with fixed entries.
type primaryActor struct {
	entries []entryFixture
	err     error
	backend *string
}

func (p *primaryActor) Query(ctx context.Context, method string, args, reply any) error {
	if p.err != nil {
		return p.err
	}
	if p.backend != nil {
		return respond(reply, map[string]any{"Err": *p.backend})
	}
	return respond(reply, map[string]any{"Ok": p.entries})
}

func (p *primaryActor) Update(ctx context.Context, method string, args, reply any) error {
	return errors.New("unexpected update")
}

// secondaryActor answers enrichment queries for one canister.
type secondaryActor struct {
	flags    map[string]any
	flagsErr error
	stats    map[string]any
	statsErr error
	llmIDs   []string
	llmErr   error
}

func (s *secondaryActor) Query(ctx context.Context, method string, args, reply any) error {
	switch method {
	case "getIssueFlagsAdmin":
		if s.flagsErr != nil {
			return s.flagsErr
		}
		return respond(reply, map[string]any{"Ok": s.flags})
	case "getMainerStatisticsAdmin":
		if s.statsErr != nil {
			return s.statsErr
		}
		return respond(reply, map[string]any{"Ok": s.stats})
	case "getLlmCanisterIds":
		if s.llmErr != nil {
			return s.llmErr
		}
		return respond(reply, map[string]any{"Ok": s.llmIDs})
	}
	return fmt.Errorf("unexpected method %q", method)
}

func (s *secondaryActor) Update(ctx context.Context, method string, args, reply any) error {
	return errors.New("unexpected update")
}

// secondaryFactory hands out per-address secondary actors.
type secondaryFactory struct {
	mu       sync.Mutex
	actors   map[string]*secondaryActor
	buildErr map[string]error
	builds   []string
}

func newSecondaryFactory() *secondaryFactory {
	return &secondaryFactory{
		actors:   map[string]*secondaryActor{},
		buildErr: map[string]error{},
	}
}

func (f *secondaryFactory) Build(canisterID string, descriptor icauth.Descriptor, identity icauth.Identity) (icauth.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.buildErr[canisterID]; err != nil {
		return nil, err
	}
	f.builds = append(f.builds, canisterID)
	actor, ok := f.actors[canisterID]
	if !ok {
		actor = &secondaryActor{}
		f.actors[canisterID] = actor
	}
	return actor, nil
}

func (f *secondaryFactory) FetchRootKey(ctx context.Context) error { return nil }

func healthyStats() map[string]any {
	return map[string]any{
		"totalCyclesBurnt": uint64(5_000_000_000_000),
		"cycleBalance":     uint64(9_000_000_000_000),
		"cyclesBurnRate":   uint64(2_000_000_000_000),
	}
}

func byAddress(t *testing.T, got []icauth.DependentActor) map[string]icauth.DependentActor {
	t.Helper()
	out := map[string]icauth.DependentActor{}
	for _, d := range got {
		out[d.Info.Address] = d
	}
	return out
}

func TestDiscoverEnrichesEntries(t *testing.T) {
	factory := newSecondaryFactory()
	factory.actors[addrA] = &secondaryActor{
		flags: map[string]any{"lowCycleBalance": false},
		stats: healthyStats(),
	}

	primary := &primaryActor{entries: []entryFixture{
		{Address: addrA, Status: "Active", Kind: "Shared"},
	}}

	init := canisters.New(factory)
	got, err := init.Discover(context.Background(), primary, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)

	info := got[0].Info
	assert.Equal(t, addrA, info.Address)
	assert.Equal(t, "active", info.UIStatus)
	assert.False(t, info.HasError)
	assert.Equal(t, uint64(5_000_000_000_000), info.BurnedCycles)
	assert.Equal(t, uint64(9_000_000_000_000), info.CycleBalance)
	assert.Equal(t, uint64(2_000_000_000_000), info.BurnRate)
	assert.Equal(t, "Medium", info.BurnRateLabel)
	assert.NotNil(t, got[0].Actor)
}

func TestDiscoverFiltersInvalidAddresses(t *testing.T) {
	factory := newSecondaryFactory()
	factory.actors[addrA] = &secondaryActor{stats: healthyStats()}

	primary := &primaryActor{entries: []entryFixture{
		{Address: addrA, Status: "Active"},
		{Address: "not-a-principal!", Status: "Active"},
		{Address: "", Status: "Creating"},
	}}

	init := canisters.New(factory)
	got, err := init.Discover(context.Background(), primary, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, addrA, got[0].Info.Address)
}

func TestDiscoverKeepsUnlockedEntriesWithoutActors(t *testing.T) {
	factory := newSecondaryFactory()
	factory.actors[addrA] = &secondaryActor{stats: healthyStats()}

	primary := &primaryActor{entries: []entryFixture{
		{Address: addrA, Status: "Active"},
		{Address: "", Status: "Unlocked"},
	}}

	init := canisters.New(factory)
	got, err := init.Discover(context.Background(), primary, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)

	entries := byAddress(t, got)
	unlocked := entries[""]
	assert.Equal(t, "unlocked", unlocked.Info.UIStatus)
	assert.Nil(t, unlocked.Actor, "unlocked canisters have no actor yet")
	assert.False(t, unlocked.Info.HasError)

	// No build attempted for the unlocked entry.
	factory.mu.Lock()
	assert.Equal(t, []string{addrA}, factory.builds)
	factory.mu.Unlock()
}

func TestDiscoverEnrichmentFailureMarksOnlyThatEntry(t *testing.T) {
	factory := newSecondaryFactory()
	factory.actors[addrA] = &secondaryActor{stats: healthyStats()}
	factory.actors[addrB] = &secondaryActor{
		statsErr: errors.New("canister stopped"),
	}
	factory.actors[addrC] = &secondaryActor{stats: healthyStats()}

	primary := &primaryActor{entries: []entryFixture{
		{Address: addrA, Status: "Active"},
		{Address: addrB, Status: "Active"},
		{Address: addrC, Status: "Active"},
	}}

	init := canisters.New(factory)
	got, err := init.Discover(context.Background(), primary, nil)
	require.NoError(t, err)
	require.Len(t, got, 3, "failed enrichment never drops entries")

	entries := byAddress(t, got)
	assert.False(t, entries[addrA].Info.HasError)
	assert.True(t, entries[addrB].Info.HasError)
	assert.False(t, entries[addrC].Info.HasError)
	assert.NotNil(t, entries[addrB].Actor)
}

func TestDiscoverBuildFailureMarksEntryInactive(t *testing.T) {
	factory := newSecondaryFactory()
	factory.buildErr[addrA] = errors.New("replica unreachable")

	primary := &primaryActor{entries: []entryFixture{
		{Address: addrA, Status: "Active"},
	}}

	init := canisters.New(factory)
	got, err := init.Discover(context.Background(), primary, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.True(t, got[0].Info.HasError)
	assert.Equal(t, "inactive", got[0].Info.UIStatus)
	assert.Nil(t, got[0].Actor)
}

func TestDiscoverLowCycleBalanceMeansInactive(t *testing.T) {
	factory := newSecondaryFactory()
	factory.actors[addrA] = &secondaryActor{
		flags: map[string]any{"lowCycleBalance": true},
		stats: healthyStats(),
	}

	primary := &primaryActor{entries: []entryFixture{
		{Address: addrA, Status: "Active"},
	}}

	init := canisters.New(factory)
	got, err := init.Discover(context.Background(), primary, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "inactive", got[0].Info.UIStatus)
	assert.False(t, got[0].Info.HasError)
}

func TestDiscoverOwnKindFetchesModelCanisters(t *testing.T) {
	factory := newSecondaryFactory()
	factory.actors[addrA] = &secondaryActor{
		stats:  healthyStats(),
		llmIDs: []string{addrB, addrC},
	}
	factory.actors[addrB] = &secondaryActor{stats: healthyStats()}

	primary := &primaryActor{entries: []entryFixture{
		{Address: addrA, Status: "LlmSetupFinished", Kind: "Own"},
		{Address: addrB, Status: "Active", Kind: "Shared"},
	}}

	init := canisters.New(factory)
	got, err := init.Discover(context.Background(), primary, nil)
	require.NoError(t, err)

	entries := byAddress(t, got)
	assert.Equal(t, []string{addrB, addrC}, entries[addrA].Info.LLMCanisters)
	assert.Equal(t, "completed", entries[addrA].Info.LLMSetupStatus)
	assert.Empty(t, entries[addrB].Info.LLMCanisters, "shared canisters are never asked")
}

func TestDiscoverOwnKindModelFetchFailureIsLogged(t *testing.T) {
	factory := newSecondaryFactory()
	factory.actors[addrA] = &secondaryActor{
		stats:  healthyStats(),
		llmErr: errors.New("not ready"),
	}

	primary := &primaryActor{entries: []entryFixture{
		{Address: addrA, Status: "LlmSetupInProgress", Kind: "Own"},
	}}

	init := canisters.New(factory)
	got, err := init.Discover(context.Background(), primary, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// Model id fetch failure is not an enrichment error.
	assert.False(t, got[0].Info.HasError)
	assert.Equal(t, "inProgress", got[0].Info.LLMSetupStatus)
}

func TestDiscoverPropagatesListingFailures(t *testing.T) {
	init := canisters.New(newSecondaryFactory())

	_, err := init.Discover(context.Background(), nil, nil)
	assert.Error(t, err, "nil primary actor")

	_, err = init.Discover(context.Background(), &primaryActor{err: errors.New("timeout")}, nil)
	assert.Error(t, err)

	rejection := "user has no canisters registered"
	_, err = init.Discover(context.Background(), &primaryActor{backend: &rejection}, nil)
	assert.Error(t, err)
}

func TestBurnRateLabel(t *testing.T) {
	assert.Equal(t, "Low", canisters.BurnRateLabel(1_000_000_000_000))
	assert.Equal(t, "Medium", canisters.BurnRateLabel(2_000_000_000_000))
	assert.Equal(t, "High", canisters.BurnRateLabel(4_000_000_000_000))
	assert.Equal(t, "Very High", canisters.BurnRateLabel(6_000_000_000_000))
	assert.Equal(t, "Medium", canisters.BurnRateLabel(0))
	assert.Equal(t, "Medium", canisters.BurnRateLabel(3_000_000_000_000))
}
