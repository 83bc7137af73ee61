package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/fxamacker/cbor/v2"
	goerrors "github.com/goliatone/go-errors"

	icauth "github.com/onicai/go-icauth"
)

// httpActor is the call handle for one canister and one identity.
type httpActor struct {
	factory    *Factory
	canister   icauth.Principal
	canisterID string
	descriptor icauth.Descriptor
	identity   icauth.Identity
}

var _ icauth.Actor = (*httpActor)(nil)

func (a *httpActor) Query(ctx context.Context, method string, args, reply any) error {
	if err := a.checkKind(method, icauth.MethodQuery); err != nil {
		return err
	}
	return a.invoke(ctx, "query", method, args, reply)
}

func (a *httpActor) Update(ctx context.Context, method string, args, reply any) error {
	if err := a.checkKind(method, icauth.MethodUpdate); err != nil {
		return err
	}
	return a.invoke(ctx, "call", method, args, reply)
}

func (a *httpActor) checkKind(method string, want icauth.MethodKind) error {
	kind, ok := a.descriptor.Kind(method)
	if !ok {
		return goerrors.New(fmt.Sprintf("method %q not in %s interface", method, a.descriptor.Name),
			goerrors.CategoryBadInput).WithCode(goerrors.CodeBadRequest)
	}
	if kind != want {
		return goerrors.New(fmt.Sprintf("method %q is a %s, not a %s", method, kind, want),
			goerrors.CategoryBadInput).WithCode(goerrors.CodeBadRequest)
	}
	return nil
}

type callResponse struct {
	Status string `cbor:"status"`
	Reply  struct {
		Arg []byte `cbor:"arg"`
	} `cbor:"reply"`
	RejectCode    uint64 `cbor:"reject_code"`
	RejectMessage string `cbor:"reject_message"`
}

func (a *httpActor) invoke(ctx context.Context, endpoint, method string, args, reply any) error {
	argBytes, err := cbor.Marshal(args)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to encode call arguments")
	}

	envelope, err := a.buildEnvelope(endpoint, method, argBytes)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v2/canister/%s/%s", a.factory.cfg.Host, a.canisterID, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to build canister request")
	}
	req.Header.Set("Content-Type", "application/cbor")

	resp, err := a.factory.client.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation,
			fmt.Sprintf("%s %s on %s failed", endpoint, method, a.canisterID))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to read canister response")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return goerrors.New(fmt.Sprintf("%s %s on %s returned HTTP %d", endpoint, method, a.canisterID, resp.StatusCode),
			goerrors.CategoryOperation)
	}

	var decoded callResponse
	if err := cbor.Unmarshal(body, &decoded); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to decode canister response")
	}

	switch decoded.Status {
	case "replied":
		if reply == nil || len(decoded.Reply.Arg) == 0 {
			return nil
		}
		if err := cbor.Unmarshal(decoded.Reply.Arg, reply); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to decode reply argument")
		}
		return nil
	case "rejected":
		// Operation errors surface a sanitized message, so the replica's
		// reject details travel as metadata.
		return goerrors.New(fmt.Sprintf("%s %s rejected", endpoint, method), goerrors.CategoryOperation).
			WithMetadata(map[string]any{
				"reject_code":    decoded.RejectCode,
				"reject_message": decoded.RejectMessage,
			})
	default:
		return goerrors.New(fmt.Sprintf("%s %s returned unknown status %q", endpoint, method, decoded.Status),
			goerrors.CategoryOperation)
	}
}

// buildEnvelope assembles and, for authenticated calls, signs the CBOR
// request envelope.
func (a *httpActor) buildEnvelope(endpoint, method string, argBytes []byte) ([]byte, error) {
	requestType := "query"
	if endpoint == "call" {
		requestType = "call"
	}

	sender := icauth.AnonymousPrincipal()
	if a.identity != nil {
		sender = a.identity.Principal()
	}

	content := map[string]any{
		"request_type":   requestType,
		"canister_id":    a.canister.Raw(),
		"method_name":    method,
		"arg":            argBytes,
		"sender":         sender.Raw(),
		"ingress_expiry": uint64(a.factory.now().Add(ingressExpiry).UnixNano()),
	}

	envelope := map[string]any{"content": content}

	if a.identity != nil {
		reqID := requestID(content)
		signed := append([]byte("\x0aic-request"), reqID...)
		sig, err := a.identity.Sign(signed)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "failed to sign request")
		}
		envelope["sender_pubkey"] = a.identity.PublicKey()
		envelope["sender_sig"] = sig
	}

	out, err := cbor.Marshal(envelope)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to encode request envelope")
	}
	return out, nil
}
