package wallet

import (
	"context"
	"encoding/hex"
	"fmt"

	icauth "github.com/onicai/go-icauth"
)

// Provider canister method names.
const (
	methodPrepareLogin  = "siwb_prepare_login"
	methodLogin         = "siwb_login"
	methodGetDelegation = "siwb_get_delegation"
)

// ProviderDescriptor describes the sign-in-with-Bitcoin provider
// canister's callable surface, for building its actor.
func ProviderDescriptor() icauth.Descriptor {
	return icauth.Descriptor{
		Name: "ic_siwb_provider",
		Methods: map[string]icauth.MethodKind{
			methodPrepareLogin:  icauth.MethodUpdate,
			methodLogin:         icauth.MethodUpdate,
			methodGetDelegation: icauth.MethodQuery,
		},
	}
}

// CanisterClient implements SiwbClient against the provider canister
// through an anonymous actor.
type CanisterClient struct {
	actor icauth.Actor
}

var _ SiwbClient = (*CanisterClient)(nil)

// NewCanisterClient wraps the provider canister actor.
func NewCanisterClient(actor icauth.Actor) *CanisterClient {
	return &CanisterClient{actor: actor}
}

type prepareLoginReply struct {
	Ok  *string `cbor:"Ok,omitempty"`
	Err *string `cbor:"Err,omitempty"`
}

type loginDetailsWire struct {
	Expiration         uint64 `cbor:"expiration"`
	UserCanisterPubkey []byte `cbor:"user_canister_pubkey"`
}

type loginReply struct {
	Ok  *loginDetailsWire `cbor:"Ok,omitempty"`
	Err *string           `cbor:"Err,omitempty"`
}

type delegationWire struct {
	Pubkey     []byte   `cbor:"pubkey"`
	Expiration uint64   `cbor:"expiration"`
	Targets    []string `cbor:"targets,omitempty"`
}

type signedDelegationWire struct {
	Delegation delegationWire `cbor:"delegation"`
	Signature  []byte         `cbor:"signature"`
}

type getDelegationReply struct {
	Ok  *signedDelegationWire `cbor:"Ok,omitempty"`
	Err *string               `cbor:"Err,omitempty"`
}

// PrepareLogin asks the provider for the canonical message to sign.
func (c *CanisterClient) PrepareLogin(ctx context.Context, address string) (string, error) {
	var reply prepareLoginReply
	if err := c.actor.Update(ctx, methodPrepareLogin, []any{address}, &reply); err != nil {
		return "", err
	}
	if reply.Err != nil {
		return "", fmt.Errorf("prepare login rejected: %s", *reply.Err)
	}
	if reply.Ok == nil {
		return "", fmt.Errorf("prepare login returned no message")
	}
	return *reply.Ok, nil
}

// Login submits the signed message and receives the session details.
func (c *CanisterClient) Login(ctx context.Context, signature []byte, address, publicKeyHex string, sessionPublicKey []byte, scheme SignScheme) (*LoginDetails, error) {
	args := []any{
		hex.EncodeToString(signature),
		address,
		publicKeyHex,
		sessionPublicKey,
		string(scheme),
	}
	var reply loginReply
	if err := c.actor.Update(ctx, methodLogin, args, &reply); err != nil {
		return nil, err
	}
	if reply.Err != nil {
		return nil, fmt.Errorf("login rejected: %s", *reply.Err)
	}
	if reply.Ok == nil {
		return nil, fmt.Errorf("login returned no details")
	}
	return &LoginDetails{
		Expiration:            reply.Ok.Expiration,
		UserCanisterPublicKey: reply.Ok.UserCanisterPubkey,
	}, nil
}

// GetDelegation fetches the delegation proof for a completed login.
func (c *CanisterClient) GetDelegation(ctx context.Context, address string, sessionPublicKey []byte, expiration uint64) (*DelegationProof, error) {
	var reply getDelegationReply
	if err := c.actor.Query(ctx, methodGetDelegation, []any{address, sessionPublicKey, expiration}, &reply); err != nil {
		return nil, err
	}
	if reply.Err != nil {
		return nil, fmt.Errorf("delegation fetch rejected: %s", *reply.Err)
	}
	if reply.Ok == nil {
		return nil, fmt.Errorf("delegation fetch returned no proof")
	}
	return &DelegationProof{
		Expiration: reply.Ok.Delegation.Expiration,
		Targets:    reply.Ok.Delegation.Targets,
		Signature:  reply.Ok.Signature,
	}, nil
}
