package block

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/opaquefs/securefs/crypto"
	"github.com/opaquefs/securefs/types"
)

// HTTPServer is a Server implementation that talks to a BlockServer over
// HTTP, matching the wire protocol documented in spec.md §6:
//
//	POST /blocks             {data: base64}   -> {hash: hex}
//	GET  /blocks/{hash}                        -> {data: base64}
//	GET  /vsl                                  -> VSLWire
//	POST /commit/{user}       VersionStructWire -> {}
//
// This is the client half of the RPC server that spec.md §1 calls an
// external collaborator; securefs never implements the server side except
// in the memserver package's test/demo reference.
type HTTPServer struct {
	baseURL string
	http    *http.Client
}

// NewHTTPServer constructs an HTTPServer client against baseURL (no
// trailing slash). A nil httpClient uses http.DefaultClient.
func NewHTTPServer(baseURL string, httpClient *http.Client) *HTTPServer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPServer{baseURL: baseURL, http: httpClient}
}

type storeRequest struct {
	Data []byte `json:"data"`
}

type storeResponse struct {
	Hash string `json:"hash"`
}

type readResponse struct {
	Data []byte `json:"data"`
}

func (s *HTTPServer) Store(ctx context.Context, blob []byte) (crypto.Hash, error) {
	body, err := json.Marshal(storeRequest{Data: blob})
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("block: encode store request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/blocks", bytes.NewReader(body))
	if err != nil {
		return crypto.Hash{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return crypto.Hash{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return crypto.Hash{}, fmt.Errorf("block: store: unexpected status %d", resp.StatusCode)
	}
	var out storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return crypto.Hash{}, fmt.Errorf("block: decode store response: %w", err)
	}
	return crypto.ParseHash(out.Hash)
}

func (s *HTTPServer) Read(ctx context.Context, hash crypto.Hash) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/blocks/"+hash.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("block: read: unexpected status %d", resp.StatusCode)
	}
	var out readResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("block: decode read response: %w", err)
	}
	return out.Data, nil
}

func (s *HTTPServer) GetVSL(ctx context.Context) (types.VSL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/vsl", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("block: get_vsl: unexpected status %d", resp.StatusCode)
	}
	var wire types.VSLWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("block: decode vsl response: %w", err)
	}
	return types.FromWireVSL(wire)
}

func (s *HTTPServer) Commit(ctx context.Context, user types.Principal, vs *types.VersionStruct) error {
	wire := vs.ToWire()
	body, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("block: encode commit request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/commit/"+user.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("block: commit: unexpected status %d: %s", resp.StatusCode, msg)
	}
	return nil
}
