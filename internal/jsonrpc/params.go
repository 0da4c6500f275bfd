package jsonrpc

import (
	"encoding/json"

	"github.com/BitcoinUnlimited/electrscash/internal/errs"
)

// params decodes a JSON-RPC params array into its individual elements,
// tolerating a missing/null params field as zero arguments the way
// original_source/src/rpc.rs's handle_command treats an absent "params"
// as an empty array.
type params []json.RawMessage

func parseParams(raw json.RawMessage) (params, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var p params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.New(errs.KindInvalidParams, "params must be an array", err)
	}
	return p, nil
}

func (p params) str(i int, name string) (string, error) {
	if i >= len(p) {
		return "", errs.New(errs.KindInvalidParams, "missing "+name, nil)
	}
	var s string
	if err := json.Unmarshal(p[i], &s); err != nil {
		return "", errs.New(errs.KindInvalidParams, name+" must be a string", err)
	}
	return s, nil
}

func (p params) strOr(i int, def string) string {
	if i >= len(p) {
		return def
	}
	var s string
	if err := json.Unmarshal(p[i], &s); err != nil {
		return def
	}
	return s
}

func (p params) uint32(i int, name string) (uint32, error) {
	if i >= len(p) {
		return 0, errs.New(errs.KindInvalidParams, "missing "+name, nil)
	}
	var v uint32
	if err := json.Unmarshal(p[i], &v); err != nil {
		return 0, errs.New(errs.KindInvalidParams, name+" must be an integer", err)
	}
	return v, nil
}

func (p params) intOr(i int, def int) int {
	if i >= len(p) {
		return def
	}
	var v int
	if err := json.Unmarshal(p[i], &v); err != nil {
		return def
	}
	return v
}

func (p params) int64Or(i int, def int64) int64 {
	if i >= len(p) {
		return def
	}
	var v int64
	if err := json.Unmarshal(p[i], &v); err != nil {
		return def
	}
	return v
}

func (p params) boolOr(i int, def bool) bool {
	if i >= len(p) {
		return def
	}
	var v bool
	if err := json.Unmarshal(p[i], &v); err != nil {
		return def
	}
	return v
}
