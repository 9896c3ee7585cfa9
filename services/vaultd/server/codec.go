package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"safevault/crypto"
)

const requestLimit = 1 << 20

func decodeRequest(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return invalid("INVALID_REQUEST", errors.New("missing request body"))
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, requestLimit))
	if err != nil {
		return invalid("INVALID_REQUEST", fmt.Errorf("read request body: %w", err))
	}
	if len(data) == 0 {
		return invalid("INVALID_REQUEST", errors.New("request body is empty"))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return invalid("INVALID_REQUEST", fmt.Errorf("decode request: %w", err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// parseAmount accepts a base-10 uint64. Zero is passed through so the engine
// reports it.
func parseAmount(raw string) (uint64, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, invalid("INVALID_AMOUNT", fmt.Errorf("amount %q is not a base-10 uint64", raw))
	}
	return value, nil
}

func parseAddress(field string, prefix crypto.AddressPrefix, raw string, code string) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(prefix, strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, invalid(code, fmt.Errorf("%s: %w", field, err))
	}
	return addr, nil
}
